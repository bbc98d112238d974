package mesh

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/notargets/gocca"
	"github.com/wangxisss/Boris2/cmbnd"
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/param"
	"github.com/wangxisss/Boris2/runner"
	"github.com/wangxisss/Boris2/runner/builder"
	"gonum.org/v1/gonum/spatial/r3"
)

// Contact couples this mesh, as primary, to Peer across one face
type Contact struct {
	cmbnd.Contact
	Peer *Mesh
}

// Mesh is a rectangular magnetic body discretized on a uniform lattice, with the
// modules that contribute to its effective field
type Mesh struct {
	ID   uuid.UUID
	Name string
	Type Type

	// M is the magnetization (A/m) or, for atomistic meshes, the moment in Bohr
	// magnetons. M2 and Heff2 hold sublattice B of antiferromagnets.
	M, M2       *grid.VEC3
	Heff, Heff2 *grid.VEC3

	Params *param.Set

	BaseTemperature float64
	Temp            *grid.Scalar // set by the heat module, nil otherwise

	ExchangeCoupled bool
	Contacts        []Contact // exchange coupling, this mesh primary
	SurfContacts    []Contact // z contacts with ferromagnetic meshes above and below

	Stepping  *Stepping
	Device    *runner.Runner
	deviceCfg builder.Config

	modules []Module
}

// New creates a mesh of the given type over rect with cellsize h. The magnetization
// starts uniform along +x (sublattice B along -x).
func New(name string, t Type, rect grid.Rect, h r3.Vec) *Mesh {
	m := &Mesh{
		ID:       uuid.New(),
		Name:     name,
		Type:     t,
		Stepping: &Stepping{},
	}
	if t == Atomistic {
		m.Params = param.NewAtomisticSet()
	} else {
		m.Params = param.NewSet()
	}
	m.M = grid.NewVEC3Filled(h, rect, r3.Vec{X: m.magnitude()})
	m.allocFields()
	if t == Antiferromagnetic {
		m.M2.SetUniform(r3.Vec{X: -m.Params.Ms2.Value})
	}
	return m
}

// magnitude is the uniform length of M: Ms, or mu_s for atomistic meshes
func (m *Mesh) magnitude() float64 {
	if m.Type == Atomistic {
		return m.Params.MuS.Value
	}
	return m.Params.Ms.Value
}

func (m *Mesh) allocFields() {
	m.Heff = grid.NewVEC3Like(m.M.Lattice)
	if m.Type == Antiferromagnetic {
		m2 := grid.NewVEC3Like(m.M.Lattice)
		if m.M2 != nil {
			m2.SampleFrom(m.M2)
		}
		m.M2 = m2
		m.Heff2 = grid.NewVEC3Like(m.M.Lattice)
	}
}

func (m *Mesh) String() string {
	return fmt.Sprintf("%s (%s, n=%v, h=%v)", m.Name, m.Type, m.M.N, m.M.H)
}

// Lattice returns the geometry shared by the mesh grids
func (m *Mesh) Lattice() *grid.Lattice { return m.M.Lattice }

// Rect returns the mesh rectangle in absolute coordinates
func (m *Mesh) Rect() grid.Rect { return m.M.Rect }

// H returns the cellsize
func (m *Mesh) H() r3.Vec { return m.M.H }

// CellVolume returns the volume of one cell
func (m *Mesh) CellVolume() float64 { return m.M.H.X * m.M.H.Y * m.M.H.Z }

// NonEmptyCells counts the cells taking part in the physics
func (m *Mesh) NonEmptyCells() int { return m.M.NonEmptyCells() }

// Volume is the volume of the non-empty cells
func (m *Mesh) Volume() float64 { return float64(m.NonEmptyCells()) * m.CellVolume() }

// ---------------------------------------------------------------------------
// Parameters

// Temperature returns the temperature at cell idx
func (m *Mesh) Temperature(idx int) float64 {
	if m.Temp != nil {
		if T, ok := m.Temp.Sample(m.M.CellCenter(idx)); ok {
			return T
		}
	}
	return m.BaseTemperature
}

// Param evaluates p at cell idx
func (m *Mesh) Param(p *param.Scalar, idx int) float64 {
	if p.IsUniform() && !p.IsTempDependent() {
		return p.Value
	}
	return p.At(m.M.CellCenter(idx), m.Temperature(idx))
}

// ParamVec evaluates p at cell idx
func (m *Mesh) ParamVec(p *param.Vector, idx int) r3.Vec {
	if p.IsUniform() && p.Temp == nil {
		return p.Value
	}
	return p.At(m.M.CellCenter(idx), m.Temperature(idx))
}

// SetParam sets the base value of a named parameter and notifies modules
func (m *Mesh) SetParam(name string, value float64) error {
	if err := m.Params.SetValue(name, value); err != nil {
		return faults.Wrap(m.Name, faults.IncorrectConfig, err)
	}
	return m.UpdateConfiguration(UpdateParamChanged)
}

// ---------------------------------------------------------------------------
// Modules

// Module returns the module of kind k, or nil
func (m *Mesh) Module(k ModuleKind) Module {
	for _, mod := range m.modules {
		if mod.Kind() == k {
			return mod
		}
	}
	return nil
}

// HasModule reports whether a module of kind k is attached
func (m *Mesh) HasModule(k ModuleKind) bool { return m.Module(k) != nil }

// Modules returns the attached modules in update order
func (m *Mesh) Modules() []Module { return append([]Module(nil), m.modules...) }

// AddModule initializes mod and attaches it. A module of the same kind is an error
// unless force is set, in which case it is replaced; if mod then fails to initialize
// the replaced module is initialized again in its old slot. Modules exclusive with mod
// are released and removed.
func (m *Mesh) AddModule(mod Module, force bool) error {
	k := mod.Kind()
	if !k.AllowedOn(m.Type) {
		return faults.New(m.Name, faults.IncorrectConfig, "module %s not available on %s meshes", k, m.Type)
	}
	replaced, at := m.Module(k), m.indexOf(k)
	if replaced != nil {
		if !force {
			return faults.New(m.Name, faults.DuplicateModule, "module %s already added", k)
		}
		m.remove(k)
	}
	if err := mod.Initialize(); err != nil {
		mod.Uninitialize()
		if faults.KindOf(err) == 0 {
			err = faults.Wrap(k.String(), faults.IncorrectConfig, err)
		}
		if replaced != nil {
			// the module being replaced stays in its slot
			err = faults.Append(err, m.restore(replaced, at))
		}
		return err
	}
	for _, ex := range k.ExclusiveWith() {
		m.remove(ex)
	}
	m.modules = append(m.modules, mod)
	return m.UpdateConfiguration(UpdateModuleAdded)
}

// DelModule releases and removes the module of kind k
func (m *Mesh) DelModule(k ModuleKind) error {
	if !m.remove(k) {
		return faults.New(m.Name, faults.UnknownModule, "module %s not present", k)
	}
	return m.UpdateConfiguration(UpdateModuleDeleted)
}

func (m *Mesh) indexOf(k ModuleKind) int {
	for i, mod := range m.modules {
		if mod.Kind() == k {
			return i
		}
	}
	return -1
}

func (m *Mesh) restore(mod Module, at int) error {
	if err := mod.Initialize(); err != nil {
		mod.Uninitialize()
		return err
	}
	m.modules = append(m.modules, nil)
	copy(m.modules[at+1:], m.modules[at:])
	m.modules[at] = mod
	return nil
}

func (m *Mesh) remove(k ModuleKind) bool {
	for i, mod := range m.modules {
		if mod.Kind() == k {
			if dc, ok := mod.(DeviceCapable); ok {
				dc.DetachDevice()
			}
			mod.Release()
			mod.Uninitialize()
			m.modules = append(m.modules[:i], m.modules[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateModules zeroes the effective field, lets every module add its contribution
// and returns the total energy density
func (m *Mesh) UpdateModules() float64 {
	m.Heff.Zero()
	if m.Heff2 != nil {
		m.Heff2.Zero()
	}
	energy := 0.0
	for _, mod := range m.modules {
		if !Prepare(mod) {
			continue
		}
		energy += mod.UpdateField()
	}
	return energy
}

// AtomisticEnergy sums the energy of moment idx over modules that provide it
func (m *Mesh) AtomisticEnergy(idx int) float64 {
	e := 0.0
	for _, mod := range m.modules {
		if ae, ok := mod.(AtomisticEnergy); ok {
			e += ae.AtomisticEnergy(idx)
		}
	}
	return e
}

// UpdateConfiguration cascades a configuration change to every module, collecting
// all errors
func (m *Mesh) UpdateConfiguration(cfg UpdateConfig) error {
	if cfg.Geometry() && len(m.Heff.Data) != m.M.Dim() {
		m.allocFields()
	}
	if cfg.Geometry() {
		m.markContacts()
	}
	if cfg.Geometry() && m.Device != nil {
		// partitions follow the lattice, so the mirror is rebuilt
		device := m.Device.Device
		m.detachDevice()
		m.Device = runner.ForLattice(device, m.M.Lattice, m.deviceCfg)
	}
	var err error
	for _, mod := range m.modules {
		err = faults.Append(err, mod.UpdateConfiguration(cfg))
	}
	if m.Device != nil && (cfg.Geometry() || cfg == UpdateModuleAdded || cfg == UpdateDeviceMode) {
		err = faults.Append(err, m.attachDevice())
	}
	return err
}

// markContacts sets the coupling flags again after the lattice flags were recomputed.
// Contacts whose face moved or no longer has non-empty cells on both sides are dropped.
func (m *Mesh) markContacts() {
	cmbnd.ClearFlags(m.M.Lattice)
	kept := m.Contacts[:0]
	for _, c := range m.Contacts {
		cc, ok := cmbnd.FindContact(m.M.Lattice, c.Peer.M.Lattice)
		if ok && cc == c.Contact && cmbnd.MarkFlags(m.M.Lattice, c.Peer.M.Lattice, cc) > 0 {
			kept = append(kept, c)
		}
	}
	m.Contacts = kept
}

// Release releases every module
func (m *Mesh) Release() {
	for _, mod := range m.modules {
		mod.Release()
	}
}

// ---------------------------------------------------------------------------
// Geometry

// SetRect changes the mesh rectangle, keeping the cellsize
func (m *Mesh) SetRect(rect grid.Rect) error {
	return m.resize(m.M.H, rect, UpdateMeshShape)
}

// SetCellsize changes the cellsize, keeping the rectangle
func (m *Mesh) SetCellsize(h r3.Vec) error {
	return m.resize(h, m.M.Rect, UpdateMeshCellsize)
}

func (m *Mesh) resize(h r3.Vec, rect grid.Rect, cfg UpdateConfig) error {
	var oldM2 *grid.VEC3
	if m.M2 != nil {
		l := *m.M.Lattice
		oldM2 = &grid.VEC3{Lattice: &l, Data: m.M2.Data}
	}
	if err := m.M.Resize(h, rect); err != nil {
		return faults.Wrap(m.Name, faults.MeshRect, err)
	}
	m.M2 = oldM2
	m.allocFields()
	if m.Temp != nil {
		// the heat module owns Temp's discretization; only the rectangle follows the mesh
		if err := m.Temp.Resize(m.Temp.H, rect); err != nil {
			return faults.Wrap(m.Name, faults.MeshRect, err)
		}
	}
	m.Contacts = nil
	m.SurfContacts = nil
	return m.UpdateConfiguration(cfg)
}

// ApplyShape applies shapes to the magnetization, setting cells inside to the
// uniform magnitude along direction dir
func (m *Mesh) ApplyShape(shapes []grid.Shape, method grid.ShapeMethod, dir r3.Vec) error {
	if n := r3.Norm(dir); n > 0 {
		dir = r3.Scale(m.magnitude()/n, dir)
	} else {
		dir = r3.Vec{X: m.magnitude()}
	}
	m.M.ApplyShape(shapes, method, dir)
	if m.M2 != nil {
		// M2 shares the lattice, so only its values follow the new shape
		dir2 := r3.Scale(-m.Params.Ms2.Value/m.magnitude(), dir)
		for idx := range m.M2.Data {
			switch {
			case m.M.IsEmpty(idx):
				m.M2.Data[idx] = r3.Vec{}
			case (method == grid.ShapeAdd || method == grid.ShapeXor) && inShapes(shapes, m.M.CellCenterRel(idx)):
				m.M2.Data[idx] = dir2
			}
		}
	}
	return m.UpdateConfiguration(UpdateMeshShape)
}

func inShapes(shapes []grid.Shape, p r3.Vec) bool {
	for _, s := range shapes {
		if s.Contains(p) {
			return true
		}
	}
	return false
}

// SetMagnetization sets every non-empty cell to the uniform magnitude along dir
func (m *Mesh) SetMagnetization(dir r3.Vec) {
	m.M.SetUniform(r3.Scale(m.magnitude()/r3.Norm(dir), dir))
	if m.M2 != nil {
		m.M2.SetUniform(r3.Scale(-m.Params.Ms2.Value/r3.Norm(dir), dir))
	}
}

// SetPBC sets the periodic images along each axis
func (m *Mesh) SetPBC(pbc grid.INT3) error {
	m.M.SetPBC(pbc)
	return m.UpdateConfiguration(UpdatePBC)
}

// ---------------------------------------------------------------------------
// Device mode

// SetDeviceMode mirrors the mesh on device and lets capable modules run there; a
// nil device returns the mesh to host execution
func (m *Mesh) SetDeviceMode(device *gocca.OCCADevice, cfg builder.Config) error {
	if m.Device != nil {
		m.detachDevice()
	}
	if device == nil {
		return m.UpdateConfiguration(UpdateDeviceMode)
	}
	m.deviceCfg = cfg
	m.Device = runner.ForLattice(device, m.M.Lattice, cfg)
	return m.UpdateConfiguration(UpdateDeviceMode)
}

func (m *Mesh) attachDevice() error {
	var err error
	for _, mod := range m.modules {
		if dc, ok := mod.(DeviceCapable); ok {
			err = faults.Append(err, dc.AttachDevice())
		}
	}
	return err
}

func (m *Mesh) detachDevice() {
	for _, mod := range m.modules {
		if dc, ok := mod.(DeviceCapable); ok {
			dc.DetachDevice()
		}
	}
	m.Device.Free()
	m.Device = nil
}

// DeviceSync allocates the shared mesh arrays on the device if needed and uploads M
// (and M2), the flags and the current Heff
func (m *Mesh) DeviceSync() error {
	r := m.Device
	if r == nil {
		return faults.New(m.Name, faults.DeviceUnavailable, "mesh is not in device mode")
	}
	n := m.M.Dim()
	if r.GetTotalElements() != n {
		return faults.New(m.Name, faults.MismatchedDiscretization,
			"device mirror covers %d cells, mesh has %d", r.GetTotalElements(), n)
	}
	names := []string{"M", "Heff"}
	grids := []*grid.VEC3{m.M, m.Heff}
	if m.M2 != nil {
		names = append(names, "M2", "Heff2")
		grids = append(grids, m.M2, m.Heff2)
	}
	for i, name := range names {
		if _, ok := r.GetArraySpec(name); !ok {
			if err := r.AllocateVec3(name, n); err != nil {
				return faults.Wrap(m.Name, faults.OutOfGPUMemory, err)
			}
		}
		if err := r.WriteVec3(name, grids[i].Data); err != nil {
			return faults.Wrap(m.Name, faults.OutOfGPUMemory, err)
		}
	}
	if _, ok := r.GetArraySpec("flags"); !ok {
		if err := r.AllocateFlags("flags", n); err != nil {
			return faults.Wrap(m.Name, faults.OutOfGPUMemory, err)
		}
	}
	return r.WriteFlags("flags", m.M.Flags)
}

// DeviceFetchField reads the device effective field back into Heff (and Heff2)
func (m *Mesh) DeviceFetchField() error {
	if err := m.Device.ReadVec3("Heff", m.Heff.Data); err != nil {
		return err
	}
	if m.Heff2 != nil {
		return m.Device.ReadVec3("Heff2", m.Heff2.Data)
	}
	return nil
}
