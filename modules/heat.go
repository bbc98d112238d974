package modules

import (
	"math"

	"github.com/wangxisss/Boris2/cmbnd"
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/param"
	"gonum.org/v1/gonum/spatial/r3"
)

// HeatConfig configures the heat equation solver. Zero values select the mesh
// cellsize, a stable substep and the mesh base temperature.
type HeatConfig struct {
	Cellsize r3.Vec
	Dt       float64
	T0       float64
	// Q is the heat source in W/m^3
	Q func(pos r3.Vec, t float64) float64
}

// HeatContact couples the temperature of this mesh, as primary, to another heat module
type HeatContact struct {
	cmbnd.Contact
	Peer *Heat
}

// Heat solves C rho dT/dt = K lap T + Q on its own temperature grid, which becomes
// the mesh temperature seen by temperature dependent parameters
type Heat struct {
	mesh.Base
	cfg HeatConfig

	Contacts []HeatContact

	// Coordinated is set when substeps across meshes are driven from outside
	Coordinated bool

	next []float64
}

// NewHeat creates the heat equation module
func NewHeat(m *mesh.Mesh, cfg HeatConfig) *Heat {
	return &Heat{Base: mesh.Base{Mesh: m, ModKind: mesh.Heat}, cfg: cfg}
}

func (h *Heat) Initialize() error {
	m := h.Mesh
	hc := h.cfg.Cellsize
	if hc == (r3.Vec{}) {
		hc = m.M.H
	}
	if hc.X <= 0 || hc.Y <= 0 || hc.Z <= 0 {
		return faults.New("heat", faults.IncorrectConfig, "invalid temperature cellsize %v", hc)
	}
	T0 := h.cfg.T0
	if T0 == 0 {
		T0 = m.BaseTemperature
	}
	if m.Temp == nil {
		m.Temp = grid.NewScalarFilled(hc, m.M.Rect, T0)
	} else if m.Temp.Rect != m.M.Rect || grid.CellCount(hc, m.M.Rect) != m.Temp.N {
		if err := m.Temp.Resize(hc, m.M.Rect); err != nil {
			return faults.Wrap("heat", faults.MeshRect, err)
		}
	}
	h.mask()
	h.markContacts()
	h.next = make([]float64, m.Temp.Dim())
	if h.cfg.Dt == 0 {
		h.cfg.Dt = h.stableDt()
	}
	h.SetInitialized(true)
	return nil
}

// mask makes temperature cells follow the magnetic shape
func (h *Heat) mask() {
	m := h.Mesh
	T := m.Temp
	for idx := range T.Flags {
		src := m.M.RelPosToIdx(T.CellCenterRel(idx))
		if src >= 0 && m.M.IsNotEmpty(src) {
			T.Flags[idx] = grid.NotEmpty
		} else {
			T.Flags[idx] = 0
			T.Data[idx] = 0
		}
	}
	T.SetFlags()
	for idx := range T.Data {
		if T.IsNotEmpty(idx) && T.Data[idx] == 0 {
			T.Data[idx] = h.Mesh.BaseTemperature
		}
	}
}

// markContacts sets the coupling flags that mask cleared, dropping contacts whose
// face changed with the temperature grid
func (h *Heat) markContacts() {
	T := h.Mesh.Temp
	kept := h.Contacts[:0]
	for _, c := range h.Contacts {
		if c.Peer == nil || c.Peer.Mesh.Temp == nil {
			continue
		}
		peer := c.Peer.Mesh.Temp.Lattice
		cc, ok := cmbnd.FindContact(T.Lattice, peer)
		if ok && cc == c.Contact && cmbnd.MarkFlags(T.Lattice, peer, cc) > 0 {
			kept = append(kept, c)
		}
	}
	h.Contacts = kept
}

// stableDt is a fraction of the explicit stability limit h^2 C rho / 6K
func (h *Heat) stableDt() float64 {
	p := h.Mesh.Params
	hc := h.Mesh.Temp.H
	hmin := math.Min(hc.X, math.Min(hc.Y, hc.Z))
	K := p.ThermalK.Value
	if K <= 0 {
		return 1e-15
	}
	return 0.8 * hmin * hmin * p.HeatC.Value * p.Density.Value / (6 * K)
}

// Dt returns the substep
func (h *Heat) Dt() float64 { return h.cfg.Dt }

func (h *Heat) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	if cfg.Geometry() {
		// a new rectangle needs a new stability limit
		h.cfg.Dt = 0
	}
	return reinit(h)
}

// Release returns the mesh to its base temperature
func (h *Heat) Release() {
	h.Mesh.Temp = nil
	h.Contacts = nil
}

func (h *Heat) at(p *param.Scalar, idx int) float64 {
	T := h.Mesh.Temp
	if p.IsUniform() && !p.IsTempDependent() {
		return p.Value
	}
	return p.At(T.CellCenter(idx), T.Data[idx])
}

// Diffuse makes one explicit step of length dt
func (h *Heat) Diffuse(dt float64) {
	m := h.Mesh
	T := m.Temp
	p := m.Params
	t := 0.0
	if m.Stepping != nil {
		t = m.Stepping.Time
	}
	T.Layout.ForEach(func(idx int) {
		if T.IsEmpty(idx) {
			h.next[idx] = 0
			return
		}
		K := h.at(p.ThermalK, idx)
		crho := h.at(p.HeatC, idx) * h.at(p.Density, idx)
		rate := K * T.DelsqNeu(idx)
		if h.cfg.Q != nil {
			rate += h.cfg.Q(T.CellCenter(idx), t)
		}
		h.next[idx] = T.Data[idx]
		if crho > 0 {
			h.next[idx] += dt * rate / crho
		}
	})
	copy(T.Data, h.next)
}

func (h *Heat) coefficients() cmbnd.Coefficients {
	p := h.Mesh.Params
	return cmbnd.Coefficients{
		// the flux is the heat current -K dT/dn
		B: func(idx int) float64 { return -h.at(p.ThermalK, idx) },
		C: func(idx int) float64 {
			if h.cfg.Q == nil {
				return 0
			}
			K := h.at(p.ThermalK, idx)
			if K == 0 {
				return 0
			}
			return -h.cfg.Q(h.Mesh.Temp.CellCenter(idx), h.Mesh.Stepping.Time) / K
		},
	}
}

// SetBoundaries sets the temperature of cells on every contact, continuous or with
// the interface conductance of this mesh
func (h *Heat) SetBoundaries() {
	G := h.Mesh.Params.Conductance.Value
	for _, c := range h.Contacts {
		if c.Peer == nil || c.Peer.Mesh.Temp == nil {
			continue
		}
		if G > 0 {
			cmbnd.SetDiscontinuous(h.Mesh.Temp, c.Peer.Mesh.Temp, c.Contact, h.coefficients(), c.Peer.coefficients(), G)
		} else {
			cmbnd.SetContinuous(h.Mesh.Temp, c.Peer.Mesh.Temp, c.Contact, h.coefficients(), c.Peer.coefficients())
		}
	}
}

// AdvanceHeat advances every module by dt in common substeps: all meshes diffuse,
// then all contacts are set
func AdvanceHeat(heats []*Heat, dt float64) {
	if len(heats) == 0 || dt <= 0 {
		return
	}
	sub := math.Inf(1)
	for _, h := range heats {
		if mesh.Prepare(h) {
			sub = math.Min(sub, h.cfg.Dt)
		}
	}
	if math.IsInf(sub, 1) || sub <= 0 {
		return
	}
	steps := int(math.Ceil(dt/sub - 1e-9))
	step := dt / float64(steps)
	for s := 0; s < steps; s++ {
		for _, h := range heats {
			if h.Initialized() {
				h.Diffuse(step)
			}
		}
		for _, h := range heats {
			if h.Initialized() {
				h.SetBoundaries()
			}
		}
	}
}

// UpdateField advances the temperature at the start of each step unless the substeps
// are coordinated across meshes. Heat carries no magnetic energy.
func (h *Heat) UpdateField() float64 {
	st := h.Mesh.Stepping
	if h.Coordinated || st == nil || st.Class != mesh.EvalComputeSave {
		return 0
	}
	AdvanceHeat([]*Heat{h}, st.Dt)
	return 0
}

func (h *Heat) GetEnergyDensity(rel grid.Rect) float64 { return 0 }

func (h *Heat) GetEnergyMax(rel grid.Rect) float64 { return 0 }

// AverageTemperature returns the mean temperature in rel
func (h *Heat) AverageTemperature(rel grid.Rect) float64 {
	if h.Mesh.Temp == nil {
		return h.Mesh.BaseTemperature
	}
	return h.Mesh.Temp.AverageNonEmpty(rel)
}
