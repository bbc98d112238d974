package supermesh

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/notargets/gocca"
	"github.com/wangxisss/Boris2/cmbnd"
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/modules"
	"github.com/wangxisss/Boris2/montecarlo"
	"github.com/wangxisss/Boris2/runner/builder"
	"gonum.org/v1/gonum/spatial/r3"
)

// Default cellsizes of new meshes
const (
	DefaultCellsize       = 5e-9
	DefaultAtomisticCells = 5e-10

	// rectangles are snapped to this resolution
	rectUnit = 1e-10
)

// SuperMesh holds the meshes of a simulation and the couplings between them
type SuperMesh struct {
	Verbose bool

	meshes   []*mesh.Mesh
	stepping *mesh.Stepping

	mcConfig montecarlo.Config
	samplers map[uuid.UUID]*montecarlo.Sampler

	device    *gocca.OCCADevice
	deviceCfg builder.Config
}

// New creates an empty supermesh
func New() *SuperMesh {
	return &SuperMesh{
		stepping: &mesh.Stepping{},
		samplers: make(map[uuid.UUID]*montecarlo.Sampler),
	}
}

func (sm *SuperMesh) logf(format string, args ...interface{}) {
	if sm.Verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// ---------------------------------------------------------------------------
// Mesh registry

// Meshes returns the meshes in insertion order
func (sm *SuperMesh) Meshes() []*mesh.Mesh { return append([]*mesh.Mesh(nil), sm.meshes...) }

// Mesh returns the mesh called name
func (sm *SuperMesh) Mesh(name string) (*mesh.Mesh, error) {
	for _, m := range sm.meshes {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, faults.New("supermesh", faults.IncorrectConfig, "no mesh named %q", name)
}

func checkRect(rect grid.Rect) (grid.Rect, error) {
	rect = grid.Snap(rect, rectUnit)
	if grid.IsPlane(rect) || grid.IsInverted(rect) {
		return rect, faults.New("supermesh", faults.MeshRect, "rectangle %v has no volume", rect)
	}
	return rect, nil
}

// AddMesh creates a mesh of type t over rect. A zero cellsize selects the default
// for the mesh type.
func (sm *SuperMesh) AddMesh(name string, t mesh.Type, rect grid.Rect, h r3.Vec) (*mesh.Mesh, error) {
	if name == "" {
		return nil, faults.New("supermesh", faults.IncorrectConfig, "mesh name is empty")
	}
	if _, err := sm.Mesh(name); err == nil {
		return nil, faults.New("supermesh", faults.IncorrectConfig, "mesh %q already exists", name)
	}
	rect, err := checkRect(rect)
	if err != nil {
		return nil, err
	}
	if h == (r3.Vec{}) {
		d := DefaultCellsize
		if t == mesh.Atomistic {
			d = DefaultAtomisticCells
		}
		h = r3.Vec{X: d, Y: d, Z: d}
	}
	if h.X <= 0 || h.Y <= 0 || h.Z <= 0 {
		return nil, faults.New("supermesh", faults.IncorrectConfig, "invalid cellsize %v", h)
	}
	m := mesh.New(name, t, rect, h)
	m.Stepping = sm.stepping
	sm.meshes = append(sm.meshes, m)
	sm.logf("added %s", m)
	if sm.device != nil {
		if err := m.SetDeviceMode(sm.device, sm.deviceCfg); err != nil {
			return m, err
		}
	}
	return m, sm.UpdateConfiguration(mesh.UpdateMeshAdded)
}

// DelMesh releases and removes a mesh; the last mesh cannot be deleted
func (sm *SuperMesh) DelMesh(name string) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if len(sm.meshes) == 1 {
		return faults.New("supermesh", faults.IncorrectConfig, "cannot delete the last mesh %q", name)
	}
	for _, mod := range m.Modules() {
		if err := m.DelModule(mod.Kind()); err != nil {
			return err
		}
	}
	if m.Device != nil {
		if err := m.SetDeviceMode(nil, builder.Config{}); err != nil {
			return err
		}
	}
	for i := range sm.meshes {
		if sm.meshes[i] == m {
			sm.meshes = append(sm.meshes[:i], sm.meshes[i+1:]...)
			break
		}
	}
	delete(sm.samplers, m.ID)
	sm.logf("deleted mesh %s", name)
	return sm.UpdateConfiguration(mesh.UpdateMeshDeleted)
}

// SetMeshRect moves or resizes a mesh, keeping its cellsize
func (sm *SuperMesh) SetMeshRect(name string, rect grid.Rect) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if rect, err = checkRect(rect); err != nil {
		return err
	}
	if err := m.SetRect(rect); err != nil {
		return err
	}
	return sm.rebuildContacts()
}

// SetCellsize changes the cellsize of a mesh
func (sm *SuperMesh) SetCellsize(name string, h r3.Vec) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if h.X <= 0 || h.Y <= 0 || h.Z <= 0 {
		return faults.New("supermesh", faults.IncorrectConfig, "invalid cellsize %v", h)
	}
	if err := m.SetCellsize(h); err != nil {
		return err
	}
	return sm.rebuildContacts()
}

// ApplyShape applies shapes to the magnetization of a mesh along dir, then rebuilds
// the contacts, which depend on the non-empty cells on both sides of every face
func (sm *SuperMesh) ApplyShape(name string, shapes []grid.Shape, method grid.ShapeMethod, dir r3.Vec) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if err := m.ApplyShape(shapes, method, dir); err != nil {
		return err
	}
	return sm.rebuildContacts()
}

// SetPBC sets the periodic images of a mesh along each axis
func (sm *SuperMesh) SetPBC(name string, pbc grid.INT3) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if pbc.X < 0 || pbc.Y < 0 || pbc.Z < 0 {
		return faults.New("supermesh", faults.IncorrectConfig, "negative periodic images %v", pbc)
	}
	if err := m.SetPBC(pbc); err != nil {
		return err
	}
	return sm.rebuildContacts()
}

// SetExchangeCoupling turns exchange coupling of a mesh to its neighbours on or off
func (sm *SuperMesh) SetExchangeCoupling(name string, on bool) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	m.ExchangeCoupled = on
	return sm.UpdateConfiguration(mesh.UpdateMeshCoupling)
}

// SetBaseTemperature sets the base temperature of a mesh
func (sm *SuperMesh) SetBaseTemperature(name string, T float64) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if T < 0 {
		return faults.New("supermesh", faults.IncorrectConfig, "negative temperature %g", T)
	}
	m.BaseTemperature = T
	return sm.UpdateConfiguration(mesh.UpdateTemperature)
}

// ---------------------------------------------------------------------------
// Modules

// AddModule creates a module of kind k on the named mesh
func (sm *SuperMesh) AddModule(name string, k mesh.ModuleKind) (mesh.Module, error) {
	m, err := sm.Mesh(name)
	if err != nil {
		return nil, err
	}
	mod, err := modules.Add(m, k, false)
	if err != nil {
		return nil, err
	}
	sm.logf("%s: added module %s", name, k)
	return mod, sm.rebuildContacts()
}

// AttachModule adds a module built with its own settings to the named mesh
func (sm *SuperMesh) AttachModule(name string, mod mesh.Module) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if err := m.AddModule(mod, false); err != nil {
		return err
	}
	sm.logf("%s: added module %s", name, mod.Kind())
	return sm.rebuildContacts()
}

// DelModule removes the module of kind k from the named mesh
func (sm *SuperMesh) DelModule(name string, k mesh.ModuleKind) error {
	m, err := sm.Mesh(name)
	if err != nil {
		return err
	}
	if err := m.DelModule(k); err != nil {
		return err
	}
	return sm.rebuildContacts()
}

// ---------------------------------------------------------------------------
// Configuration

// UpdateConfiguration cascades cfg to every mesh, then rebuilds the contacts
func (sm *SuperMesh) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	var err error
	for _, m := range sm.meshes {
		err = faults.Append(err, m.UpdateConfiguration(cfg))
	}
	return faults.Append(err, sm.rebuildContacts())
}

func heatOf(m *mesh.Mesh) *modules.Heat {
	if h, ok := m.Module(mesh.Heat).(*modules.Heat); ok && m.Temp != nil {
		return h
	}
	return nil
}

// rebuildContacts recomputes the composite boundaries: exchange between coupled
// meshes of the same type, surface exchange between ferromagnets stacked along z,
// and heat flow between meshes solving the heat equation
func (sm *SuperMesh) rebuildContacts() error {
	for _, m := range sm.meshes {
		m.Contacts, m.SurfContacts = nil, nil
		cmbnd.ClearFlags(m.M.Lattice)
		if h := heatOf(m); h != nil {
			h.Contacts = nil
			h.Coordinated = true
			cmbnd.ClearFlags(m.Temp.Lattice)
		}
	}

	exchange, surface, heat := 0, 0, 0
	for _, a := range sm.meshes {
		for _, b := range sm.meshes {
			if a == b {
				continue
			}
			if a.Type == b.Type && a.Type != mesh.Atomistic && a.ExchangeCoupled && b.ExchangeCoupled {
				if c, ok := cmbnd.FindContact(a.M.Lattice, b.M.Lattice); ok {
					if cmbnd.MarkFlags(a.M.Lattice, b.M.Lattice, c) > 0 {
						a.Contacts = append(a.Contacts, mesh.Contact{Contact: c, Peer: b})
						exchange++
					}
				}
			}
			if a.Type == mesh.Ferromagnetic && b.Type == mesh.Ferromagnetic {
				// surface exchange works across a gap-free z face, without composite flags
				if c, ok := cmbnd.FindContact(a.M.Lattice, b.M.Lattice); ok && c.Axis == 2 {
					a.SurfContacts = append(a.SurfContacts, mesh.Contact{Contact: c, Peer: b})
					surface++
				}
			}
			ha, hb := heatOf(a), heatOf(b)
			if ha != nil && hb != nil {
				if c, ok := cmbnd.FindContact(a.Temp.Lattice, b.Temp.Lattice); ok {
					if cmbnd.MarkFlags(a.Temp.Lattice, b.Temp.Lattice, c) > 0 {
						ha.Contacts = append(ha.Contacts, modules.HeatContact{Contact: c, Peer: hb})
						heat++
					}
				}
			}
		}
	}
	if exchange+surface+heat > 0 {
		sm.logf("contacts: %d exchange, %d surface, %d heat", exchange, surface, heat)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Field evaluation

// Stepping returns the evolver state shared by all meshes
func (sm *SuperMesh) Stepping() *mesh.Stepping { return sm.stepping }

// SetStepping records the evolver state for the next field evaluation
func (sm *SuperMesh) SetStepping(time, dt float64, class mesh.StepClass, evalSpeedup bool) {
	*sm.stepping = mesh.Stepping{Time: time, Dt: dt, Class: class, EvalSpeedup: evalSpeedup}
}

func (sm *SuperMesh) heats() []*modules.Heat {
	var hs []*modules.Heat
	for _, m := range sm.meshes {
		if h := heatOf(m); h != nil {
			hs = append(hs, h)
		}
	}
	return hs
}

// UpdateField advances the temperature over the step at its start, then computes
// the effective field of every mesh. It returns the volume averaged energy density.
func (sm *SuperMesh) UpdateField() float64 {
	st := sm.stepping
	if hs := sm.heats(); len(hs) > 0 && st.Class == mesh.EvalComputeSave && st.Dt > 0 {
		modules.AdvanceHeat(hs, st.Dt)
	}
	energy, volume := 0.0, 0.0
	for _, m := range sm.meshes {
		e := m.UpdateModules()
		V := m.Volume()
		energy += e * V
		volume += V
	}
	if volume == 0 {
		return 0
	}
	return energy / volume
}

// ---------------------------------------------------------------------------
// Monte Carlo

// SetMonteCarlo configures the samplers of atomistic meshes; samplers in use are
// replaced, the i-th atomistic mesh being seeded with cfg.Seed+i
func (sm *SuperMesh) SetMonteCarlo(cfg montecarlo.Config) {
	sm.mcConfig = cfg
	sm.samplers = make(map[uuid.UUID]*montecarlo.Sampler)
}

// Sampler returns the sampler of an atomistic mesh, creating it if needed
func (sm *SuperMesh) Sampler(name string) (*montecarlo.Sampler, error) {
	m, err := sm.Mesh(name)
	if err != nil {
		return nil, err
	}
	return sm.sampler(m)
}

func (sm *SuperMesh) sampler(m *mesh.Mesh) (*montecarlo.Sampler, error) {
	if s, ok := sm.samplers[m.ID]; ok {
		return s, nil
	}
	cfg := sm.mcConfig
	for i, other := range sm.meshes {
		if other == m {
			cfg.Seed += uint64(i)
		}
	}
	s, err := montecarlo.New(m, cfg)
	if err != nil {
		return nil, err
	}
	sm.samplers[m.ID] = s
	return s, nil
}

// MonteCarloStep takes one Monte Carlo step on every atomistic mesh and returns the
// mean acceptance rate over them
func (sm *SuperMesh) MonteCarloStep(target float64) (float64, error) {
	rate, count := 0.0, 0
	for _, m := range sm.meshes {
		if m.Type != mesh.Atomistic {
			continue
		}
		s, err := sm.sampler(m)
		if err != nil {
			return 0, err
		}
		s.Step(target)
		rate += s.AcceptanceRate()
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return rate / float64(count), nil
}

// ---------------------------------------------------------------------------
// Device

// SetDeviceMode moves every mesh, and meshes added later, to device execution
func (sm *SuperMesh) SetDeviceMode(device *gocca.OCCADevice, cfg builder.Config) error {
	if device == nil {
		return sm.DisableDevice()
	}
	sm.device, sm.deviceCfg = device, cfg
	var err error
	for _, m := range sm.meshes {
		err = faults.Append(err, m.SetDeviceMode(device, cfg))
	}
	return err
}

// DisableDevice returns every mesh to host execution
func (sm *SuperMesh) DisableDevice() error {
	sm.device = nil
	var err error
	for _, m := range sm.meshes {
		if m.Device != nil {
			err = faults.Append(err, m.SetDeviceMode(nil, builder.Config{}))
		}
	}
	return err
}
