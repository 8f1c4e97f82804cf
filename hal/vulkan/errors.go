package vulkan

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkframe/hal"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newError converts a failed result into an error that carries the calling
// function. Results the engine branches on wrap the matching hal error.
func newError(ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	var base error
	switch ret {
	case vk.ErrorOutOfDate:
		base = hal.ErrOutOfDate
	case vk.Suboptimal:
		base = hal.ErrSuboptimal
	case vk.Timeout:
		base = hal.ErrTimeout
	case vk.NotReady:
		base = hal.ErrNotReady
	case vk.ErrorDeviceLost:
		base = hal.ErrDeviceLost
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorFragmentedPool:
		base = hal.ErrOutOfMemory
	case vk.ErrorSurfaceLost:
		base = hal.ErrSurfaceLost
	case vk.ErrorFeatureNotPresent, vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent, vk.ErrorFormatNotSupported, vk.ErrorIncompatibleDriver:
		base = hal.ErrUnsupported
	default:
		base = vk.Error(ret)
	}
	where := "unknown"
	if pc, _, _, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			where = fn.Name()
		}
	}
	return errors.Wrapf(base, "vulkan: %s (%d) on %s", vk.Error(ret).Error(), ret, where)
}

func orPanic(err error) {
	if err != nil {
		panic(err)
	}
}

func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = e
			return
		}
		*err = fmt.Errorf("%+v", v)
	}
}
