package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Runner is implemented by the voice pipeline controller.
type Runner interface {
	Running() bool
}

// Pipeline passes while the voice loop's worker is running.
func Pipeline(r Runner) Checker {
	return Checker{
		Name: "pipeline",
		Check: func(context.Context) error {
			if !r.Running() {
				return errors.New("voice loop is not running")
			}
			return nil
		},
	}
}

// Skill is implemented by skill service clients.
type Skill interface {
	Name() string
	Available() bool
}

// Skills passes when every skill has at least one replica whose circuit
// breaker admits calls.
func Skills(skills ...Skill) Checker {
	return Checker{
		Name: "skills",
		Check: func(context.Context) error {
			var down []string
			for _, s := range skills {
				if !s.Available() {
					down = append(down, s.Name())
				}
			}
			if len(down) == 0 {
				return nil
			}
			sort.Strings(down)
			return fmt.Errorf("no available replica for %s", strings.Join(down, ", "))
		},
	}
}
