// {{{ Copyright (c) Paul R. Tagliamonte <paul@k3xec.com>, 2020
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

// Package warning carries small runtime notices for call sites exercising
// deprecated or elided API surface.
package warning

import (
	"runtime"

	"github.com/rs/zerolog/log"
)

// Elided marks an action name that was intentionally dropped from the
// commission protocol (see the setup-input-* triple) and should never be
// reached by current callers.
func Elided(name string) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "<unknown>"
	}

	log.Warn().
		Str("file", file).
		Int("line", line).
		Str("action", name).
		Msg("warning: elided action invoked, migrate the caller")
}

// vim: foldmethod=marker
