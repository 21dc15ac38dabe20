package helpers

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizePathComponent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain name", "Some Model", "Some Model"},
		{"Forward slash", "a/b", "a_b"},
		{"Backslash", "a\\b", "a_b"},
		{"Both separators", "a/b\\c", "a_b_c"},
		{"Leading/trailing spaces", "  padded  ", "padded"},
		{"Empty string", "", "_"},
		{"Only separators", "///", "___"},
		{"Unicode kept", "モデル v1.5", "モデル v1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePathComponent(tt.input)
			if got != tt.want {
				t.Errorf("SanitizePathComponent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes uint64
		want  string
	}{
		{"Zero bytes", 0, "0B"},
		{"Bytes", 500, "500.00B"},
		{"Kilobytes", 1024, "1.00KB"},
		{"Kilobytes fractional", 1536, "1.50KB"},
		{"Megabytes", 1024 * 1024, "1.00MB"},
		{"Gigabytes", 1024 * 1024 * 1024, "1.00GB"},
		{"Terabytes", 1024 * 1024 * 1024 * 1024, "1.00TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToSize(tt.bytes)
			if got != tt.want {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestCheckAndMakeDir(t *testing.T) {
	baseTempDir := t.TempDir()

	preExistingDir := filepath.Join(baseTempDir, "already_exists")
	if err := os.Mkdir(preExistingDir, 0755); err != nil {
		t.Fatalf("Failed to pre-create directory %s: %v", preExistingDir, err)
	}
	preExistingFile := filepath.Join(baseTempDir, "existing_file.txt")
	if _, err := os.Create(preExistingFile); err != nil {
		t.Fatalf("Failed to pre-create file %s: %v", preExistingFile, err)
	}

	tests := []struct {
		name       string
		dirToMake  string // Relative to baseTempDir
		wantResult bool
	}{
		{"Create simple directory", "new_dir", true},
		{"Create nested directory", filepath.Join("nested", "dir", "to", "create"), true},
		{"Target is an existing file", "existing_file.txt", false},
		{"Directory already exists", "already_exists", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fullPath := filepath.Join(baseTempDir, tt.dirToMake)
			gotResult := CheckAndMakeDir(fullPath)
			if gotResult != tt.wantResult {
				t.Errorf("CheckAndMakeDir(%q) = %v, want %v", fullPath, gotResult, tt.wantResult)
			}
			if tt.wantResult {
				info, err := os.Stat(fullPath)
				if err != nil || !info.IsDir() {
					t.Errorf("CheckAndMakeDir(%q) succeeded but directory does not exist", fullPath)
				}
			}
		})
	}
}

func TestFileBlake3(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "digest_me.bin")
	if err := os.WriteFile(testFile, []byte("this is test content for hashing"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// b3sum of the content above.
	want := "b3c004d66e2a918576f44266a57bbcf854b79ed13d068a6a0ef5156c3cf41b74"
	got, err := FileBlake3(testFile)
	if err != nil {
		t.Fatalf("FileBlake3 returned error: %v", err)
	}
	if got != want {
		t.Errorf("FileBlake3 = %q, want %q", got, want)
	}

	if _, err := FileBlake3(filepath.Join(tempDir, "missing.bin")); err == nil {
		t.Error("FileBlake3 on missing file: expected error, got nil")
	}
}
