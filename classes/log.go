package classes

import (
	"io/ioutil"
	"log"
	"os"
)

// PrintDebugInfo gates verbose logging of hierarchy mutations. Of
// Hierarchy's mutation methods only DefineClass currently writes to this
// logger; the JIT's hot path never touches it.
var PrintDebugInfo = false

var logger *log.Logger

func init() {
	w := ioutil.Discard
	if PrintDebugInfo {
		w = os.Stderr
	}
	logger = log.New(w, "classes: ", log.Lshortfile)
}
