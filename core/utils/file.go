package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StdioPath 表示标准输入/输出的路径
const StdioPath = "-"

// ReadFileOrStdin 读取文件，path 为 "-" 时读取 stdin
func ReadFileOrStdin(path string, stdin io.Reader) ([]byte, error) {
	if path == StdioPath {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("读取标准输入失败: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return data, nil
}

// WriteFileOrStdout 写入文件，path 为空或 "-" 时写到 stdout。
// 先写临时文件再改名，中途失败不会留下半个文件。
func WriteFileOrStdout(path string, data []byte, stdout io.Writer) error {
	if path == "" || path == StdioPath {
		_, err := stdout.Write(data)
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("保存文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("保存文件失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}
