package epoch

import (
	"fmt"
	"math"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/epochio/epocha/errs"
)

// Evoked is the result of averaging a collection across epochs: one row
// per channel on the collection's time axis.
type Evoked struct {
	Info  *Info
	Times []float64
	Data  [][]float64
	// NAve is the number of epochs combined.
	NAve int
	// Kind is "average" or "standard_error".
	Kind string
}

// ApplyFunction applies fn in place to every (epoch, channel) row of the
// preloaded data, restricted to picks when given. Rows are processed
// concurrently; fn must not retain or share state across calls unless it
// is safe to do so.
func (c *Collection) ApplyFunction(fn func(samples []float64) error, picks ...int) error {
	if !c.preload {
		return fmt.Errorf("%w: apply modifies data", errs.ErrNotPreloaded)
	}
	if len(picks) == 0 {
		picks = pickAll(len(c.info.Channels))
	} else if err := c.info.checkPicks(picks); err != nil {
		return err
	}

	p := pool.New().WithErrors().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for e := 0; e < c.data.NEpochs(); e++ {
		for _, ch := range picks {
			row := c.data.Row(e, ch)
			p.Go(func() error {
				return fn(row)
			})
		}
	}

	return p.Wait()
}

// Average combines all epochs into a per-channel mean. A delayed
// projector is applied first, matching read access.
func (c *Collection) Average() (*Evoked, error) {
	return c.combine(false)
}

// StandardError combines all epochs into the per-sample standard error of
// the mean.
func (c *Collection) StandardError() (*Evoked, error) {
	return c.combine(true)
}

func (c *Collection) combine(stderr bool) (*Evoked, error) {
	buf, err := c.GetData()
	if err != nil {
		return nil, err
	}
	n := buf.NEpochs()
	if n == 0 {
		return nil, fmt.Errorf("%w: nothing to average", errs.ErrNoMatchingEvents)
	}

	nCh, nT := buf.NChannels(), buf.NTimes()
	out := make([][]float64, nCh)
	for ch := range out {
		out[ch] = make([]float64, nT)
	}
	for e := 0; e < n; e++ {
		rows := buf.Epoch(e)
		for ch := 0; ch < nCh; ch++ {
			for t := 0; t < nT; t++ {
				out[ch][t] += rows[ch][t]
			}
		}
	}
	inv := 1 / float64(n)
	for ch := range out {
		for t := range out[ch] {
			out[ch][t] *= inv
		}
	}

	kind := "average"
	if stderr {
		kind = "standard_error"
		sq := make([][]float64, nCh)
		for ch := range sq {
			sq[ch] = make([]float64, nT)
		}
		for e := 0; e < n; e++ {
			rows := buf.Epoch(e)
			for ch := 0; ch < nCh; ch++ {
				for t := 0; t < nT; t++ {
					d := rows[ch][t] - out[ch][t]
					sq[ch][t] += d * d
				}
			}
		}
		for ch := range out {
			for t := range out[ch] {
				out[ch][t] = math.Sqrt(sq[ch][t]/float64(n)) / math.Sqrt(float64(n))
			}
		}
	}

	return &Evoked{
		Info:  c.info.Clone(),
		Times: c.Times(),
		Data:  out,
		NAve:  n,
		Kind:  kind,
	}, nil
}
