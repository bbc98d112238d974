package mesh

import "fmt"

// Type is the kind of magnetic material a mesh models
type Type int

const (
	Ferromagnetic Type = iota
	Antiferromagnetic
	Atomistic
)

func (t Type) String() string {
	switch t {
	case Ferromagnetic:
		return "ferromagnetic"
	case Antiferromagnetic:
		return "antiferromagnetic"
	case Atomistic:
		return "atomistic"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType converts a mesh type name into a Type
func ParseType(name string) (Type, error) {
	for _, t := range []Type{Ferromagnetic, Antiferromagnetic, Atomistic} {
		if t.String() == name {
			return t, nil
		}
	}
	switch name {
	case "", "fm":
		return Ferromagnetic, nil
	case "afm":
		return Antiferromagnetic, nil
	case "atom":
		return Atomistic, nil
	}
	return 0, fmt.Errorf("unknown mesh type %q", name)
}

// UpdateConfig tells modules what changed in the simulation setup
type UpdateConfig int

const (
	UpdateMeshShape UpdateConfig = iota
	UpdateMeshCellsize
	UpdatePBC
	UpdateModuleAdded
	UpdateModuleDeleted
	UpdateParamChanged
	UpdateDeviceMode
	UpdateMeshAdded
	UpdateMeshDeleted
	UpdateMeshCoupling
	UpdateTemperature
)

// Geometry reports whether the change resizes or reshapes mesh grids
func (c UpdateConfig) Geometry() bool {
	return c == UpdateMeshShape || c == UpdateMeshCellsize || c == UpdatePBC
}

// StepClass is the kind of field evaluation an evolver step is making
type StepClass int

const (
	EvalComputeSave   StepClass = iota // first evaluation of a step: compute and keep
	EvalComputeNoSave                  // intermediate evaluation: compute, keep the saved one
	EvalReuse                          // reuse the saved result
)

// Stepping is the evolver state shared by the meshes of a simulation
type Stepping struct {
	Time        float64
	Dt          float64
	Class       StepClass
	EvalSpeedup bool
}

// ModuleKind identifies an effective field or energy contribution
type ModuleKind int

const (
	Exchange ModuleKind = iota
	DMExchange
	IDMExchange
	Demag
	Zeeman
	AnisotropyUniaxial
	AnisotropyCubic
	SurfExchange
	Heat
	AtomExchange
	AtomDMExchange
	AtomZeeman
	AtomAnisotropyUniaxial
	numModuleKinds
)

var moduleNames = [numModuleKinds]string{
	"exchange", "DMexchange", "iDMexchange", "demag", "Zeeman", "aniuni", "anicubi",
	"surfexchange", "heat", "atom_exchange", "atom_DMexchange", "atom_Zeeman", "atom_aniuni",
}

func (k ModuleKind) String() string {
	if k >= 0 && k < numModuleKinds {
		return moduleNames[k]
	}
	return fmt.Sprintf("ModuleKind(%d)", int(k))
}

// ParseModuleKind converts a module name into its kind
func ParseModuleKind(name string) (ModuleKind, error) {
	for k, n := range moduleNames {
		if n == name {
			return ModuleKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown module %q", name)
}

// exclusive lists the groups of modules that cannot coexist on a mesh
var exclusive = [][]ModuleKind{
	{Exchange, DMExchange, IDMExchange},
	{AnisotropyUniaxial, AnisotropyCubic},
	{AtomExchange, AtomDMExchange},
}

// ExclusiveWith returns the kinds that are removed when k is added
func (k ModuleKind) ExclusiveWith() []ModuleKind {
	var out []ModuleKind
	for _, g := range exclusive {
		in := false
		for _, kk := range g {
			if kk == k {
				in = true
			}
		}
		if !in {
			continue
		}
		for _, kk := range g {
			if kk != k {
				out = append(out, kk)
			}
		}
	}
	return out
}

// AllowedOn reports whether modules of kind k can be added to a mesh of type t
func (k ModuleKind) AllowedOn(t Type) bool {
	switch k {
	case Demag, Heat:
		return true
	case AtomExchange, AtomDMExchange, AtomZeeman, AtomAnisotropyUniaxial:
		return t == Atomistic
	case SurfExchange:
		return t == Ferromagnetic
	}
	return t != Atomistic
}
