package classes

import "fmt"

// TypeError is raised (synchronously, before any state mutation) by
// DefineClass when name is already bound to a singleton class, one of the
// cases §4.A documents as "inheritance impossible". A singleton class of a
// forbidden immediate kind is reported as ForbiddenSingletonError instead.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string { return e.Msg }

// ArgumentError is raised for cyclic include/prepend and missing-superclass
// define, per §7 "User-visible errors".
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return e.Msg }

// IncompatibleSuperclassError reports that a class binding already exists
// with a real superclass different from the one requested by DefineClass.
type IncompatibleSuperclassError struct {
	Name     string
	Existing *Class
	Wanted   *Class
}

func (e *IncompatibleSuperclassError) Error() string {
	return fmt.Sprintf("superclass mismatch for %s: existing %s, wanted %s",
		e.Name, e.Existing.Name, e.Wanted.Name)
}

// CyclicIncludeError reports that a module is already present in the
// ancestor chain being extended.
type CyclicIncludeError struct {
	Module *Class
	Target *Class
}

func (e *CyclicIncludeError) Error() string {
	return fmt.Sprintf("module %s is already included in the ancestry of %s", e.Module.Name, e.Target.Name)
}

// ForbiddenSingletonError reports an attempt to take the singleton class of
// a value kind for which singleton classes are forbidden (fixnums,
// bignums, floats, symbols, frozen interned strings).
type ForbiddenSingletonError struct {
	Kind string
}

func (e *ForbiddenSingletonError) Error() string {
	return fmt.Sprintf("can't define singleton class for %s", e.Kind)
}
