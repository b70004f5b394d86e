package tensors

import (
	"bytes"
	"encoding/gob"
	"os"
	"reflect"

	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/types/shapes"
)

// GobSerialize Tensor in binary format: the shape followed by the flat data.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) (err error) {
	err = t.shape.GobSerialize(encoder)
	if err != nil {
		return
	}
	err = encoder.EncodeValue(reflect.ValueOf(t.flat))
	if err != nil {
		err = errors.Wrapf(err, "failed to serialize Tensor data for shape %s", t.shape)
	}
	return
}

// GobDeserialize a Tensor. Returns the new Tensor or an error.
func GobDeserialize(decoder *gob.Decoder) (t *Tensor, err error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		return
	}
	t = FromShape(shape)
	flatPtr := reflect.New(reflect.TypeOf(t.flat))
	err = decoder.DecodeValue(flatPtr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to deserialize Tensor data for shape %s", shape)
	}
	flat := flatPtr.Elem()
	if flat.Len() != shape.Size() {
		return nil, errors.Errorf("deserialized Tensor data has %d values, shape %s requires %d",
			flat.Len(), shape, shape.Size())
	}
	t.flat = flat.Interface()
	return
}

// GobEncode implements gob.GobEncoder, so Tensors can be encoded as interface values
// (e.g. as container leaves).
func (t *Tensor) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := t.GobSerialize(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (t *Tensor) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))
	decoded, err := GobDeserialize(dec)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

// Save the Tensor to the given file path, overwriting it if it already exists.
func (t *Tensor) Save(filePath string) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating file %q to save Tensor", filePath)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "closing file %q after saving Tensor", filePath)
		}
	}()
	enc := gob.NewEncoder(f)
	return t.GobSerialize(enc)
}

// Load a Tensor previously written with Save.
func Load(filePath string) (t *Tensor, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening file %q to load Tensor", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	return GobDeserialize(dec)
}
