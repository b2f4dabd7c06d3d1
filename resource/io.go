package resource

import "context"

// LoadBlock copies a stored dictionary block into a fresh buffer, charging
// each slice of the copy against the IO budget before it is read.
func (c *Controller) LoadBlock(ctx context.Context, stored []byte) ([]byte, error) {
	out := make([]byte, 0, len(stored))
	step := len(stored)
	if c != nil && c.io != nil {
		step = c.io.Burst()
	}
	for len(out) < len(stored) {
		n := min(step, len(stored)-len(out))
		if err := c.WaitIO(ctx, n); err != nil {
			return nil, err
		}
		out = append(out, stored[len(out):len(out)+n]...)
	}
	return out, nil
}
