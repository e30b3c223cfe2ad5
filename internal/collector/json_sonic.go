//go:build sonic

package collector

import (
	"github.com/bytedance/sonic"
)

var jsonMarshal = sonic.Marshal
