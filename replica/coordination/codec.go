package coordination

import "github.com/distlake/replica/wire"

// decodeData re-encodes a generically-decoded envelope payload (msgpack
// decodes `interface{}` fields into maps) and decodes it again into a
// concrete struct, without requiring a second schema for every service.
func decodeData(v interface{}, out interface{}) error {
	data, err := wire.Encode(v)
	if err != nil {
		return err
	}
	return wire.Decode(data, out)
}
