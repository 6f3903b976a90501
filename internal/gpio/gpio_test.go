package gpio

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSensorFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "w1_slave"), []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestReadSensorTemp(t *testing.T) {
	dir := writeSensorFile(t, "4b 01 4b 46 7f ff 0c 10 da : crc=da YES\n4b 01 4b 46 7f ff 0c 10 da t=21562\n")

	temp, err := ReadSensorTemp(dir)
	if err != nil {
		t.Fatalf("expected clean read, got error: %v", err)
	}
	if temp != 21.562 {
		t.Fatalf("expected 21.562, got %v", temp)
	}
}

func TestReadSensorTempNegative(t *testing.T) {
	dir := writeSensorFile(t, "ff ff : crc=aa YES\nff ff t=-1250\n")

	temp, err := ReadSensorTemp(dir)
	if err != nil {
		t.Fatalf("expected clean read, got error: %v", err)
	}
	if temp != -1.25 {
		t.Fatalf("expected -1.25, got %v", temp)
	}
}

func TestReadSensorTempMalformed(t *testing.T) {
	dir := writeSensorFile(t, "garbage with no temperature line\n")

	if _, err := ReadSensorTemp(dir); err == nil {
		t.Fatal("expected error on malformed sensor data, got nil")
	}
}

func TestReadSensorTempMissingFile(t *testing.T) {
	if _, err := ReadSensorTemp(t.TempDir()); err == nil {
		t.Fatal("expected error on missing sensor file, got nil")
	}
}
