// Package shutdown runs ordered cleanup steps when the server is asked to
// stop, under one overall timeout.
//
//	h := shutdown.NewHandler(30*time.Second, log)
//	h.OnShutdown("backend", be.Close)
//	h.OnShutdown("final save", finalSave)
//	err := h.Wait(ctx) // final save runs before the backend closes
package shutdown
