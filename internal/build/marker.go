package build

import (
	"fmt"
	"os"

	"github.com/jchantrell/magiarchive/internal/cache"
)

// State is the build state of one container.
type State int

const (
	// StateAbsent means neither the container nor its marker exist.
	StateAbsent State = iota
	// StateBuilding means the marker exists: the container is missing or
	// partially written and must be rebuilt from scratch.
	StateBuilding
	// StateFinished means the container exists and its marker does not.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateBuilding:
		return "building"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ContainerState reports the state of the named container.
func ContainerState(c *cache.Cache, name string) State {
	if c.FileExists(c.GetMarkerPath(name)) {
		return StateBuilding
	}
	if c.FileExists(c.GetContainerPath(name)) {
		return StateFinished
	}
	return StateAbsent
}

// beginContainer moves a container into StateBuilding. The marker goes down
// before the container file is touched, and any index cache of a previous
// container by that name is dropped.
func beginContainer(c *cache.Cache, name string) error {
	if err := c.EnsureDir(c.GetMarkerPath(name)); err != nil {
		return fmt.Errorf("creating build marker for %s: %w", name, err)
	}
	if err := os.Remove(c.GetIndexPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing index cache for %s: %w", name, err)
	}
	return nil
}

// finishContainer moves a container into StateFinished. Callers must have
// flushed and closed the container first.
func finishContainer(c *cache.Cache, name string) error {
	if err := os.Remove(c.GetMarkerPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing build marker for %s: %w", name, err)
	}
	return nil
}

// ConversionFinished reports whether the legacy tree was fully converted:
// the store directory exists and carries no conversion marker.
func ConversionFinished(c *cache.Cache) bool {
	return c.FileExists(c.GetCacheDir()) && !c.FileExists(c.GetConversionMarkerPath())
}

// BeginConversion creates the store directory and its conversion marker.
func BeginConversion(c *cache.Cache) error {
	if err := c.EnsureDir(c.GetConversionMarkerPath()); err != nil {
		return fmt.Errorf("creating conversion marker: %w", err)
	}
	return nil
}

// FinishConversion removes the conversion marker.
func FinishConversion(c *cache.Cache) error {
	if err := os.Remove(c.GetConversionMarkerPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing conversion marker: %w", err)
	}
	return nil
}
