package mesh

import (
	"github.com/wangxisss/Boris2/grid"
	"gonum.org/v1/gonum/spatial/r3"
)

// Module is an effective field and energy contribution attached to a mesh.
// UpdateField adds the module's field into the mesh's Heff (and Heff2 for
// antiferromagnets) and returns the energy density averaged over non-empty cells.
type Module interface {
	Kind() ModuleKind
	Initialize() error
	Uninitialize()
	Initialized() bool
	UpdateConfiguration(cfg UpdateConfig) error
	UpdateField() float64
	// GetEnergyDensity and GetEnergyMax evaluate cells whose centers lie in rel,
	// relative to the mesh origin; the null rectangle selects the whole mesh
	GetEnergyDensity(rel grid.Rect) float64
	GetEnergyMax(rel grid.Rect) float64
	// Release undoes any global setting the module imposed on its mesh
	Release()
}

// AtomisticEnergy is implemented by modules of atomistic meshes; the energy of
// moment idx is in J
type AtomisticEnergy interface {
	AtomisticEnergy(idx int) float64
}

// EnergyDisplay is implemented by modules that can write their energy density per cell
type EnergyDisplay interface {
	ComputeEnergyDensity(out *grid.Scalar)
}

// FieldSetter is implemented by modules driven by an applied field
type FieldSetter interface {
	SetField(h r3.Vec)
	Field() r3.Vec
}

// DeviceCapable is implemented by modules with a device mirror. AttachDevice is
// called when the mesh enters device mode and on configuration changes while in it.
type DeviceCapable interface {
	AttachDevice() error
	DetachDevice()
}

// Base carries the state every module shares. Embed it and set Mesh and ModKind.
type Base struct {
	Mesh        *Mesh
	ModKind     ModuleKind
	initialized bool
}

func (b *Base) Kind() ModuleKind { return b.ModKind }

func (b *Base) Initialized() bool { return b.initialized }

func (b *Base) SetInitialized(ok bool) { b.initialized = ok }

func (b *Base) Uninitialize() { b.initialized = false }

func (b *Base) Release() {}

// Prepare initializes m if needed, reporting whether it is ready to update
func Prepare(m Module) bool {
	if m.Initialized() {
		return true
	}
	return m.Initialize() == nil
}
