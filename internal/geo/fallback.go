package geo

// Static pincode-prefix table for the serviceable metro (Indore and nearby).
// Used when the upstream geocoder is unreachable or returns nothing.
var pincodeFallback = map[string]Point{
	"452": {Lat: 22.7196, Lon: 75.8577}, // Indore city
	"453": {Lat: 22.7500, Lon: 75.8500}, // Indore nearby
	"454": {Lat: 22.6800, Lon: 75.9000}, // Indore outskirts
}

// defaultPoint is the city-center coordinate used when nothing else matches.
var defaultPoint = Point{Lat: 22.7196, Lon: 75.8577}

func fallbackByPincode(pincode string) (Point, bool) {
	if len(pincode) < 3 {
		return Point{}, false
	}
	point, ok := pincodeFallback[pincode[:3]]
	return point, ok
}
