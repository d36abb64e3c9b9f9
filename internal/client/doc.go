// Package client is a Go client for the homelightd HTTP API.
//
// It covers the device listing, the plain-text value routes and the
// websocket event stream:
//
//	c := client.NewClient("http://localhost:8000")
//	if err := c.SetBrightness(ctx, 1, 60); err != nil {
//	    return err
//	}
//	err := c.Watch(ctx, 1, func(st bridge.Status) {
//	    fmt.Println(st.Name, st.State)
//	})
//
// Network failures and the server's queue_full, stale and no_data errors
// are retried with exponential backoff. Every other failure is returned at
// once as an *APIError.
package client
