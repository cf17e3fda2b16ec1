package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factbase/internal/model"
)

func encodeFields(fs *model.FieldStore) ([]byte, error) {
	fields := fs.Fields
	if fields == nil {
		fields = map[string]*model.FieldRecord{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal fields for %s", fs.EntityID)
	}
	return data, nil
}

func decodeFields(entityID string, data []byte) (map[string]*model.FieldRecord, error) {
	fields := map[string]*model.FieldRecord{}
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal fields for %s", entityID)
	}
	for k, rec := range fields {
		if rec == nil {
			delete(fields, k)
			continue
		}
		rec.Key = k
	}
	return fields, nil
}

func encodeSources(sources []string) ([]byte, error) {
	if sources == nil {
		sources = []string{}
	}
	data, err := json.Marshal(sources)
	return data, eris.Wrap(err, "store: marshal graph sources")
}

func decodeSources(data []byte) ([]string, error) {
	var out []string
	if len(data) == 0 {
		return out, nil
	}
	err := json.Unmarshal(data, &out)
	return out, eris.Wrap(err, "store: unmarshal graph sources")
}
