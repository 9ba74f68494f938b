// File: server/auth.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net/http"

	"github.com/momentics/hioload-rpc/api"
)

// Authorizer decides, from the upgrade request, which environments a new
// connection may use. envs maps local handles to global indexes.
type Authorizer interface {
	Authorize(req *http.Request, remote string) (user uint32, envs []uint32, err error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(req *http.Request, remote string) (uint32, []uint32, error)

func (f AuthorizerFunc) Authorize(req *http.Request, remote string) (uint32, []uint32, error) {
	return f(req, remote)
}

// StaticGrants gives every connection the same environments as user 0.
type StaticGrants struct {
	Environments []uint32
}

func (g StaticGrants) Authorize(*http.Request, string) (uint32, []uint32, error) {
	if len(g.Environments) == 0 {
		return 0, nil, api.NewError(api.ErrCodeNotFound, "no environments granted")
	}
	return 0, append([]uint32(nil), g.Environments...), nil
}
