package registry

import "github.com/hushtype/hushtype/internal/speech/engine"

// Streaming is the global registry of remote streaming session backends.
var Streaming = New[engine.StreamingASR]()

// Local is the global registry of supervised local server backends.
var Local = New[engine.LocalServer]()
