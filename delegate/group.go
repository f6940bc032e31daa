package delegate

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// A Group runs the delegates of several hardware threads together.
// The zero value is ready for use.
type Group struct {
	ds []*Delegate
}

// Add adds d to the group. Add must not be called after Run.
func (g *Group) Add(d *Delegate) { g.ds = append(g.ds, d) }

// Len reports the number of delegates in the group.
func (g *Group) Len() int { return len(g.ds) }

// Run runs all the delegates in g concurrently and waits for them to finish.
// If any delegate fails, the others are stopped, and Run reports the first
// failure. Delegates whose threads exit normally do not stop the others.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, d := range g.ds {
		d := d
		eg.Go(func() error { return d.Run(ctx) })
	}
	return eg.Wait()
}
