package storage

import (
	"errors"
	"testing"

	"telesis/internal/model"
)

func TestDecodeCheckpointRejectsVersionSkew(t *testing.T) {
	checkpoint := makeCheckpoint("cp1", 1, model.CheckpointPeriodic)
	checkpoint.SchemaVersion = CurrentSchemaVersion + 1

	data, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeCheckpoint(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
}

func TestDecodeGenomeRejectsCodecSkew(t *testing.T) {
	genome := model.Genome{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion + 1},
		ID:              "g1",
	}
	data, err := EncodeGenome(genome)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeGenome(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
}

func TestStampMatchesCurrentVersions(t *testing.T) {
	stamp := Stamp()
	if stamp.SchemaVersion != CurrentSchemaVersion || stamp.CodecVersion != CurrentCodecVersion {
		t.Fatalf("stamp = %+v", stamp)
	}

	genome := model.Genome{VersionedRecord: stamp, ID: "g1"}
	data, err := EncodeGenome(genome)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeGenome(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != "g1" {
		t.Fatalf("decoded id = %s", decoded.ID)
	}
}
