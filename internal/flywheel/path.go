package flywheel

import "strings"

// gjsonPath converts a JSONPath expression to gjson syntax:
//
//	$.users[0].name  ->  users.0.name
//	$['a']["b"]      ->  a.b
//
// Paths without a leading $ are assumed to be gjson already.
func gjsonPath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}

	r := strings.NewReplacer(
		"['", ".", "']", "",
		`["`, ".", `"]`, "",
		"[", ".", "]", "",
	)
	path = r.Replace(path)
	return strings.TrimPrefix(path, ".")
}
