package model

import (
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/chogo-ml/chogo/core/tensor"
	"github.com/chogo-ml/chogo/pkg/errors"
)

// SchemaVersion is the current on-disk model format version. Loading a
// directory written with a different version fails loudly rather than
// reconstructing a model from incompatible fields.
const SchemaVersion = 1

const metadataFile = "metadata.json"

// Persistable is the capability a model must offer to round-trip
// through SaveDir/LoadDir. Parameter tensors are addressed by their
// stable names, never by position.
type Persistable interface {
	// Kind identifies the model type, e.g. "SimpleMNL".
	Kind() string
	// Hyperparameters returns the scalar/string configuration to persist.
	Hyperparameters() map[string]interface{}
	// ApplyHyperparameters restores configuration saved by Hyperparameters.
	ApplyHyperparameters(params map[string]interface{}) error
	// Parameters returns the model's named parameter set. For a model
	// that has not been instantiated yet it may be empty; LoadDir
	// applies hyper-parameters first so the model can instantiate its
	// tensors before they are filled in.
	Parameters() *tensor.NamedTensors
}

// Instantiable is implemented by models whose parameter tensors are
// created lazily. LoadDir calls Materialize after applying
// hyper-parameters and before assigning tensors.
type Instantiable interface {
	// Materialize creates the parameter tensors from the model's
	// current hyper-parameters.
	Materialize() error
}

type metadata struct {
	Kind            string                 `json:"kind"`
	SchemaVersion   int                    `json:"schema_version"`
	Hyperparameters map[string]interface{} `json:"hyperparameters"`
	ParameterNames  []string               `json:"parameter_names"`
}

type tensorRecord struct {
	Rows int
	Cols int
	Data []float64
}

// SaveDir writes a model into a directory: metadata.json holds the
// model kind, schema version and hyper-parameters, and each parameter
// tensor is written as its own gob artifact named after the parameter.
func SaveDir(m Persistable, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create model directory")
	}

	params := m.Parameters()
	meta := metadata{
		Kind:            m.Kind(),
		SchemaVersion:   SchemaVersion,
		Hyperparameters: m.Hyperparameters(),
		ParameterNames:  params.Names(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode model metadata")
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), raw, 0o644); err != nil {
		return errors.Wrap(err, "write model metadata")
	}

	for _, name := range params.Names() {
		if err := saveTensor(params.Get(name), filepath.Join(dir, tensorFileName(name))); err != nil {
			return errors.Wrapf(err, "save parameter %q", name)
		}
	}
	return nil
}

// LoadDir restores a model previously written with SaveDir. The target
// model must be of the same kind; its hyper-parameters are applied
// first, then each parameter tensor is assigned by name.
func LoadDir(m Persistable, dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return errors.Wrap(err, "read model metadata")
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return errors.Wrap(err, "decode model metadata")
	}
	if meta.SchemaVersion != SchemaVersion {
		return errors.NewValueError("LoadDir",
			errors.Newf("unsupported schema version %d (want %d)",
				meta.SchemaVersion, SchemaVersion).Error())
	}
	if meta.Kind != m.Kind() {
		return errors.NewValueError("LoadDir",
			"model kind mismatch: saved "+meta.Kind+", loading into "+m.Kind())
	}

	if err := m.ApplyHyperparameters(meta.Hyperparameters); err != nil {
		return errors.Wrap(err, "apply hyperparameters")
	}
	if inst, ok := m.(Instantiable); ok {
		if err := inst.Materialize(); err != nil {
			return errors.Wrap(err, "materialize parameters")
		}
	}

	params := m.Parameters()
	for _, name := range meta.ParameterNames {
		dst := params.Get(name)
		if dst == nil {
			return errors.NewValueError("LoadDir", "model has no parameter named "+name)
		}
		if err := loadTensor(dst, filepath.Join(dir, tensorFileName(name))); err != nil {
			return errors.Wrapf(err, "load parameter %q", name)
		}
	}
	return nil
}

// tensorFileName flattens hierarchical parameter names so they stay
// inside the model directory.
func tensorFileName(param string) string {
	out := make([]byte, len(param))
	for i := 0; i < len(param); i++ {
		switch param[i] {
		case '/', '\\':
			out[i] = '_'
		default:
			out[i] = param[i]
		}
	}
	return string(out) + ".gob"
}

func saveTensor(t *mat.Dense, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r, c := t.Dims()
	rec := tensorRecord{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			rec.Data = append(rec.Data, t.At(i, j))
		}
	}
	return gob.NewEncoder(f).Encode(&rec)
}

func loadTensor(dst *mat.Dense, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var rec tensorRecord
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return err
	}
	r, c := dst.Dims()
	if rec.Rows != r || rec.Cols != c {
		return errors.NewDimensionError("loadTensor", r*c, rec.Rows*rec.Cols, 0)
	}
	dst.SetRawMatrix(mat.NewDense(rec.Rows, rec.Cols, rec.Data).RawMatrix())
	return nil
}
