package vulkan

import (
	"strings"

	vk "github.com/vulkan-go/vulkan"
)

// InstanceExtensions gets a list of instance extensions available on the platform.
func InstanceExtensions() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateInstanceExtensionProperties("", &count, nil)
	orPanic(newError(ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateInstanceExtensionProperties("", &count, list)
	orPanic(newError(ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// DeviceExtensions gets a list of extensions available on the provided physical device.
func DeviceExtensions(gpu vk.PhysicalDevice) (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)
	orPanic(newError(ret))
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)
	orPanic(newError(ret))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// ValidationLayers gets a list of validation layers available on the platform.
func ValidationLayers() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	ret := vk.EnumerateInstanceLayerProperties(&count, nil)
	orPanic(newError(ret))
	list := make([]vk.LayerProperties, count)
	ret = vk.EnumerateInstanceLayerProperties(&count, list)
	orPanic(newError(ret))
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, err
}

// extensionSet splits requested names into the ones that must be present
// and the ones that are enabled only when available.
type extensionSet struct {
	wanted   []string
	required []string
	actual   []string
}

func newExtensionSet(wanted, required, actual []string) *extensionSet {
	return &extensionSet{
		wanted:   trimNames(wanted),
		required: trimNames(required),
		actual:   trimNames(actual),
	}
}

func (e *extensionSet) has(name string) bool {
	for _, act := range e.actual {
		if act == name {
			return true
		}
	}
	return false
}

func (e *extensionSet) missing(names []string) []string {
	var out []string
	for _, n := range names {
		if !e.has(n) {
			out = append(out, n)
		}
	}
	return out
}

// HasRequired reports whether every required name is available and lists the
// ones that are not.
func (e *extensionSet) HasRequired() (bool, []string) {
	m := e.missing(e.required)
	return len(m) == 0, m
}

func (e *extensionSet) HasWanted() (bool, []string) {
	m := e.missing(e.wanted)
	return len(m) == 0, m
}

// Enabled returns the required names followed by the available wanted ones,
// null terminated for the driver.
func (e *extensionSet) Enabled() []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range e.required {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range e.wanted {
		if !seen[n] && e.has(n) {
			seen[n] = true
			out = append(out, n)
		}
	}
	return safeStrings(out)
}

func trimNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimRight(n, "\x00"))
	}
	return out
}

func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}
