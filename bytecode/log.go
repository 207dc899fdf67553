package bytecode

import (
	"io/ioutil"
	"log"
	"os"
)

// PrintDebugInfo gates verbose decode-time logging. It mirrors the
// decode-only logging split used elsewhere in the stack: the compile and
// execute hot paths never log. Nothing in this package currently writes
// to logger.
var PrintDebugInfo = false

var logger *log.Logger

func init() {
	w := ioutil.Discard
	if PrintDebugInfo {
		w = os.Stderr
	}
	logger = log.New(w, "bytecode: ", log.Lshortfile)
}
