//go:build !sonic

package collector

import (
	"github.com/goccy/go-json"
)

var jsonMarshal = json.Marshal
