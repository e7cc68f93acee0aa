package remote

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Method describes one method of a remote interface.
type Method struct {
	Name  string
	Index int // position in the interface's method set

	// Context is true when the first parameter is a context.Context. That
	// parameter is not transmitted; the dispatcher supplies its own.
	Context bool

	Params    []reflect.Type // transmitted parameters
	ParamTags []string
	Result    reflect.Type // nil for error-only methods
	ResultTag string
}

// Signature is the lookup key used to match a request against a method:
// name, parameter tags and result tag.
func (m *Method) Signature() string {
	return SignatureOf(m.Name, m.ParamTags, m.ResultTag)
}

// SignatureOf renders a lookup key, e.g. "AssignTask(int,string)" or
// "CreateTask(string,string)int".
func SignatureOf(name string, paramTags []string, resultTag string) string {
	return name + "(" + strings.Join(paramTags, ",") + ")" + resultTag
}

// Interface is the immutable descriptor of a remote interface.
type Interface struct {
	Type    reflect.Type
	Name    string
	methods []*Method
	byName  map[string]*Method
	bySig   map[string]*Method
}

// Methods returns the methods sorted by name.
func (i *Interface) Methods() []*Method {
	return i.methods
}

// Method finds a method by name only. Stubs use it to prepare a call.
func (i *Interface) Method(name string) (*Method, bool) {
	m, ok := i.byName[name]
	return m, ok
}

// Lookup finds the method matching the full signature of a request.
func (i *Interface) Lookup(name string, paramTags []string, resultTag string) (*Method, bool) {
	m, ok := i.bySig[SignatureOf(name, paramTags, resultTag)]
	return m, ok
}

var descriptors sync.Map // reflect.Type -> *Interface

// Describe validates t and builds its descriptor. Descriptors are cached per
// type. Supported method shapes are
//
//	M([ctx context.Context,] args...) error
//	M([ctx context.Context,] args...) (R, error)
//
// where the final result satisfies IsRemoteInterface's rule. Variadic
// methods and unexported methods are rejected.
func Describe(t reflect.Type) (*Interface, error) {
	if t == nil {
		return nil, errors.Annotate(ErrInvalidArgument, "nil interface type")
	}
	if d, ok := descriptors.Load(t); ok {
		return d.(*Interface), nil
	}
	if !IsRemoteInterface(t) {
		return nil, errors.Annotatef(ErrNotRemoteInterface, "%s", TypeTag(t))
	}

	d := &Interface{
		Type:   t,
		Name:   TypeTag(t),
		byName: make(map[string]*Method, t.NumMethod()),
		bySig:  make(map[string]*Method, t.NumMethod()),
	}
	for i := 0; i < t.NumMethod(); i++ {
		m, err := describeMethod(t.Method(i), i)
		if err != nil {
			return nil, errors.Annotatef(ErrNotRemoteInterface, "%s.%s: %v", d.Name, t.Method(i).Name, err)
		}
		d.methods = append(d.methods, m)
		d.byName[m.Name] = m
		d.bySig[m.Signature()] = m
	}
	sort.Slice(d.methods, func(a, b int) bool { return d.methods[a].Name < d.methods[b].Name })

	actual, _ := descriptors.LoadOrStore(t, d)
	return actual.(*Interface), nil
}

func describeMethod(rm reflect.Method, index int) (*Method, error) {
	if !rm.IsExported() {
		return nil, errors.New("unexported method")
	}
	mt := rm.Type
	if mt.IsVariadic() {
		return nil, errors.New("variadic methods are not supported")
	}
	// Already enforced by IsRemoteInterface; the dispatcher relies on it.
	if last := mt.Out(mt.NumOut() - 1); !last.Implements(errorType) {
		return nil, errors.Errorf("last result %s is not an error", last)
	}

	m := &Method{Name: rm.Name, Index: index}
	first := 0
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		m.Context = true
		first = 1
	}
	for j := first; j < mt.NumIn(); j++ {
		p := mt.In(j)
		if p == contextType {
			return nil, errors.New("context.Context must be the first parameter")
		}
		m.Params = append(m.Params, p)
		m.ParamTags = append(m.ParamTags, TypeTag(p))
	}

	switch mt.NumOut() {
	case 1:
	case 2:
		m.Result = mt.Out(0)
		m.ResultTag = TypeTag(m.Result)
	default:
		return nil, errors.Errorf("%d results, at most 2 are supported", mt.NumOut())
	}
	return m, nil
}

// TypeTag is the name a type travels under in a request, e.g. "int",
// "[]tasks.Task" or "tasks.Status".
func TypeTag(t reflect.Type) string {
	return t.String()
}
