package item

// legacyBerryItems maps berry names written by older clients and stored in
// older records to catalog ids. The table is fixed.
var legacyBerryItems = map[string]string{
	"blueberry":  "berry_blueberry",
	"strawberry": "berry_strawberry",
	"greenberry": "berry_greenberry",
	"goldberry":  "berry_goldberry",
}

// CanonicalBerryItem resolves a berry type to its catalog id. Legacy names are
// translated through the fixed table; canonical ids are returned unchanged.
//
// Postcondition: ok is false when berryType is neither a legacy name nor a
// berry id in the table.
func CanonicalBerryItem(berryType string) (string, bool) {
	if id, ok := legacyBerryItems[berryType]; ok {
		return id, true
	}
	for _, id := range legacyBerryItems {
		if id == berryType {
			return id, true
		}
	}
	return "", false
}
