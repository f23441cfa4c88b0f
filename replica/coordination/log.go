package coordination

import (
	"io"
	"os"
)

// logWriter is where every component logger in this package writes;
// overridable by tests that want to silence or capture output.
var logWriter io.Writer = os.Stderr
