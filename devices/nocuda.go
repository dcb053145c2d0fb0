//go:build !cuda

package devices

func discover() ([]Device, error) {
	return nil, ErrNoCUDA
}
