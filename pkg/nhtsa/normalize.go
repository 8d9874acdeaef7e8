package nhtsa

import "strings"

// BodyStyle maps a vPIC BodyClass to a seasonal body style key, or "" when
// no style applies.
func BodyStyle(bodyClass string) string {
	b := strings.ToLower(bodyClass)
	switch {
	case b == "":
		return ""
	case strings.Contains(b, "convertible") || strings.Contains(b, "cabriolet") || strings.Contains(b, "roadster"):
		return "convertible"
	case strings.Contains(b, "sport utility") || strings.Contains(b, "suv") || strings.Contains(b, "crossover"):
		return "suv"
	case strings.Contains(b, "pickup") || strings.Contains(b, "truck"):
		return "truck"
	case strings.Contains(b, "coupe"):
		return "sport"
	default:
		return ""
	}
}

// FuelType maps a vPIC FuelTypePrimary to a fuel table key.
func FuelType(primary string) string {
	f := strings.ToLower(strings.TrimSpace(primary))
	switch {
	case f == "":
		return ""
	case strings.Contains(f, "plug-in"):
		return "plug-in hybrid"
	case strings.Contains(f, "electric"):
		return "electric"
	case strings.Contains(f, "hybrid"):
		return "hybrid"
	case strings.Contains(f, "diesel"):
		return "diesel"
	case strings.Contains(f, "flex") || strings.Contains(f, "e85"):
		return "flex fuel"
	case strings.Contains(f, "gasoline"):
		return "gasoline"
	default:
		return f
	}
}

// Transmission maps a vPIC TransmissionStyle to a transmission table key.
func Transmission(style string) string {
	t := strings.ToLower(strings.TrimSpace(style))
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "cvt") || strings.Contains(t, "continuously variable"):
		return "cvt"
	case strings.Contains(t, "dual-clutch") || strings.Contains(t, "dct"):
		return "dual-clutch"
	case strings.Contains(t, "manual"):
		return "manual"
	case strings.Contains(t, "automatic"):
		return "automatic"
	default:
		return t
	}
}
