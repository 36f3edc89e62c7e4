package graph

import (
	"math"
	"math/rand"

	"github.com/aescanero/dagflow/pkg/domain"
)

// LayoutOptions tunes the force-directed placement.
type LayoutOptions struct {
	Width      float64
	Height     float64
	Iterations int
	Seed       int64
	Repulsion  float64
	Attraction float64
}

// DefaultLayoutOptions returns a 800x600 canvas with 100 iterations.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{
		Width:      800,
		Height:     600,
		Iterations: 100,
		Seed:       1,
		Repulsion:  1,
		Attraction: 1,
	}
}

// OptimizeLayout places nodes with a force-directed algorithm and stores the
// positions on the nodes. The result is deterministic for a given seed.
func (g *Graph) OptimizeLayout(opts LayoutOptions) map[string]domain.Position {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.nodes)
	positions := make(map[string]domain.Position, n)
	if n == 0 {
		return positions
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	pos := make([]domain.Position, n)
	for i := range pos {
		pos[i] = domain.Position{X: rng.Float64() * opts.Width, Y: rng.Float64() * opts.Height}
	}

	k := math.Sqrt(opts.Width * opts.Height / float64(n))
	temperature := opts.Width / 10
	cooling := temperature / float64(opts.Iterations+1)

	for iter := 0; iter < opts.Iterations; iter++ {
		disp := make([]domain.Position, n)

		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				dx, dy, d := distance(pos[i], pos[j])
				force := opts.Repulsion * k * k / d
				disp[i].X += dx / d * force
				disp[i].Y += dy / d * force
				disp[j].X -= dx / d * force
				disp[j].Y -= dy / d * force
			}
		}

		for _, t := range g.transitions {
			u, v := g.index[t.FromState], g.index[t.ToState]
			if u == v {
				continue
			}
			dx, dy, d := distance(pos[u], pos[v])
			force := opts.Attraction * d * d / k
			disp[u].X -= dx / d * force
			disp[u].Y -= dy / d * force
			disp[v].X += dx / d * force
			disp[v].Y += dy / d * force
		}

		for i := range pos {
			length := math.Max(math.Hypot(disp[i].X, disp[i].Y), 0.01)
			step := math.Min(length, temperature)
			pos[i].X = clamp(pos[i].X+disp[i].X/length*step, 0, opts.Width)
			pos[i].Y = clamp(pos[i].Y+disp[i].Y/length*step, 0, opts.Height)
		}
		temperature -= cooling
	}

	for i := range g.nodes {
		p := pos[i]
		g.nodes[i].Position = &p
		positions[g.nodes[i].ID] = p
	}
	return positions
}

func distance(a, b domain.Position) (dx, dy, d float64) {
	dx, dy = a.X-b.X, a.Y-b.Y
	d = math.Max(math.Hypot(dx, dy), 0.01)
	return dx, dy, d
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
