package zarr

import jsoniter "github.com/json-iterator/go"

// JSON is the codec used for every document this module writes. Map keys are
// sorted so that identical stores always encode to identical bytes.
var JSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()
