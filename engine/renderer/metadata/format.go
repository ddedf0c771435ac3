package metadata

import (
	"fmt"
	"strings"
)

// Format is a backend-agnostic pixel or vertex attribute format.
type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR16G16B16A16Sfloat
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
	FormatD24UnormS8Uint
	FormatD32SfloatS8Uint
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
)

var formatNames = map[Format]string{
	FormatUndefined:          "undefined",
	FormatR8G8B8A8Unorm:      "r8g8b8a8_unorm",
	FormatR8G8B8A8Srgb:       "r8g8b8a8_srgb",
	FormatB8G8R8A8Unorm:      "b8g8r8a8_unorm",
	FormatB8G8R8A8Srgb:       "b8g8r8a8_srgb",
	FormatR16G16B16A16Sfloat: "r16g16b16a16_sfloat",
	FormatR32G32B32A32Sfloat: "r32g32b32a32_sfloat",
	FormatD32Sfloat:          "d32_sfloat",
	FormatD24UnormS8Uint:     "d24_unorm_s8_uint",
	FormatD32SfloatS8Uint:    "d32_sfloat_s8_uint",
	FormatR32G32Sfloat:       "r32g32_sfloat",
	FormatR32G32B32Sfloat:    "r32g32b32_sfloat",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", uint32(f))
}

// ParseFormat is the inverse of String. Matching ignores case.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return FormatUndefined, fmt.Errorf("unknown format %q", s)
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// IsColor reports whether f can back a color attachment.
func (f Format) IsColor() bool {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatR16G16B16A16Sfloat, FormatR32G32B32A32Sfloat:
		return true
	}
	return false
}

// IsDepth reports whether f can back a depth-stencil attachment.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD32Sfloat, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	}
	return false
}

func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

// IsBGRA reports whether the first channel in memory is blue.
func (f Format) IsBGRA() bool {
	return f == FormatB8G8R8A8Unorm || f == FormatB8G8R8A8Srgb
}

// BytesPerPixel returns the texel size, or 0 for FormatUndefined.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatR16G16B16A16Sfloat, FormatD32SfloatS8Uint, FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}
