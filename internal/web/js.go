//go:build js
// +build js

// Package web adapts the engine to the browser: WaveSurfer hosts each
// rendition, Web Audio provides the analysis graph and the spectrum is
// painted on a 2D canvas each animation frame.
package web

import (
	"errors"
	"fmt"

	"github.com/gopherjs/gopherjs/js"
)

var errUndefined = errors.New("undefined value")

func defined(o *js.Object) bool {
	return o != nil && o != js.Undefined && o != js.Null
}

// guard turns a JS exception raised by fn into an error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(*js.Error); ok {
				err = jsErr
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}

// await blocks the calling goroutine until the promise settles. Callers
// must not be on the JS event loop.
func await(promise *js.Object) error {
	if !defined(promise) || !defined(promise.Get("then")) {
		return nil
	}
	done := make(chan error, 1)
	promise.Call("then",
		func() { done <- nil },
		func(reason *js.Object) { done <- jsError(reason) },
	)
	return <-done
}

// settle reports a rejected promise to onErr without blocking.
func settle(promise *js.Object, onErr func(error)) {
	if !defined(promise) || !defined(promise.Get("catch")) {
		return
	}
	promise.Call("catch", func(reason *js.Object) {
		go onErr(jsError(reason))
	})
}

func jsError(reason *js.Object) error {
	if !defined(reason) {
		return errUndefined
	}
	if msg := reason.Get("message"); defined(msg) {
		return errors.New(msg.String())
	}
	return errors.New(reason.String())
}
