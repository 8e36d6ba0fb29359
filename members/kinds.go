package members

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/muster/cfg"
	"github.com/maxpert/muster/hlc"
	"github.com/maxpert/muster/id"
	"github.com/maxpert/muster/membership"
)

const (
	KindNoop   = "noop"
	KindTicker = "ticker"
)

// Deps is what member constructors may draw on.
type Deps struct {
	IDs          id.Generator
	Clock        *hlc.Clock
	TickInterval time.Duration
}

// Constructor builds one member of a kind.
type Constructor func(deps Deps) membership.Member

var (
	kindConstructors = make(map[string]Constructor)
	kindMu           sync.RWMutex
)

func init() {
	RegisterKind(KindNoop, func(deps Deps) membership.Member {
		return NewBase(membership.MemberID(deps.IDs.NextID()))
	})
	RegisterKind(KindTicker, func(deps Deps) membership.Member {
		return NewTicker(membership.MemberID(deps.IDs.NextID()), deps.Clock, deps.TickInterval)
	})
}

// RegisterKind registers a member constructor under a kind name
func RegisterKind(kind string, ctor Constructor) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindConstructors[kind] = ctor
}

// Kinds lists registered kind names.
func Kinds() []string {
	kindMu.RLock()
	defer kindMu.RUnlock()

	names := make([]string, 0, len(kindConstructors))
	for name := range kindConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFactory returns a membership.Factory producing members of kind.
func NewFactory(kind string, deps Deps) (membership.Factory, error) {
	if deps.IDs == nil {
		return nil, fmt.Errorf("member kind %q needs an id generator", kind)
	}

	kindMu.RLock()
	ctor, exists := kindConstructors[kind]
	kindMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown member kind: %s", kind)
	}
	return func() membership.Member { return ctor(deps) }, nil
}

// Descriptors binds configured roles to their kinds.
func Descriptors(roles []cfg.RoleConfiguration, deps Deps) ([]membership.RoleDescriptor, error) {
	descriptors := make([]membership.RoleDescriptor, 0, len(roles))
	for _, role := range roles {
		factory, err := NewFactory(role.Kind, deps)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", role.Name, err)
		}
		descriptors = append(descriptors, membership.RoleDescriptor{
			Role:    membership.RoleName(role.Name),
			Factory: factory,
			Local:   role.Local,
		})
	}
	return descriptors, nil
}
