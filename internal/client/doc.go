// Package client is a Go client for the image queue server.
//
// A Client multiplexes requests over one connection. Requests are written as
// soon as they are submitted and a background reader matches responses to
// them by request id, so many requests can be in flight at once:
//
//	c, err := client.Dial(ctx, "localhost:2222", logger)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	h, err := c.Register(ctx, data)
//	blurred, err := c.Transform(ctx, protocol.OpBlur, h, false)
//	out, err := c.Retrieve(ctx, blurred)
//
// The package also builds synthetic test images (Gradient) and runs scripted
// workloads described in YAML (LoadScript, Run).
package client
