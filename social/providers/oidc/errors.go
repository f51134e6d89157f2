package oidc

import "errors"

var errNonceMismatch = errors.New("nonce mismatch")
