package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ToMetaAndDataMap flattens values through their JSON form. A top-level "_id" field becomes the
// document id instead of a document field.
func ToMetaAndDataMap[T any](values []T) ([]MetaMap, []DocumentMap, error) {
	dataMap := make([]DocumentMap, len(values))
	metaMap := make([]MetaMap, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal value to JSON: %w", err)
		}
		var mapStruct map[string]interface{}
		if err := json.Unmarshal(data, &mapStruct); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal JSON to map: %w", err)
		}

		if id, ok := mapStruct["_id"]; ok {
			delete(mapStruct, "_id")
			metaMap[i] = MetaMap{"index": map[string]interface{}{"_id": id}}
		} else {
			metaMap[i] = MetaMap{"index": map[string]interface{}{}}
		}
		dataMap[i] = mapStruct
	}
	return metaMap, dataMap, nil
}

var ErrBulkItemsFailed = errors.New("one or more bulk items failed")
