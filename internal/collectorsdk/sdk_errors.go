package collectorsdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoCollectorURL = errors.New("sdk: collector url missing")

	// ErrManifestFetch covers transport failures and non-2xx responses on
	// the manifest GET. A single materialization attempt is fatal on it.
	ErrManifestFetch = errors.New("sdk: manifest fetch failed")

	// ErrManifestDecode means the collector answered 2xx with a body that
	// is not a valid manifest.
	ErrManifestDecode = errors.New("sdk: manifest decode failed")
)

// DeliveryError is any failure posting an event to the collector. The retry
// queue treats every DeliveryError as transient and retries forever.
type DeliveryError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("deliver %s: collector returned %d", e.Op, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// checkDelivery folds the req error and the response status into a single
// DeliveryError, or nil on 2xx.
func checkDelivery(resp *req.Response, requestErr error, op string) error {
	if requestErr != nil {
		return &DeliveryError{Op: op, Err: requestErr}
	}
	if resp.IsErrorState() {
		return &DeliveryError{Op: op, StatusCode: resp.StatusCode}
	}
	return nil
}
