package parser

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// jsonlEntry 表示 JSONL 中的一行
type jsonlEntry struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// DecryptFile 解密 AES-256-GCM 加密的语料文件
// 文件格式: salt(16) + nonce(16) + tag(16) + ciphertext
func DecryptFile(path string, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Decrypt(data, password)
}

func Decrypt(data []byte, password string) ([]byte, error) {
	if len(data) < 48 {
		return nil, fmt.Errorf("file too small")
	}

	salt := data[:16]
	nonce := data[16:32]
	tag := data[32:48]
	ciphertext := data[48:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	// GCM 的 decrypt 需要 ciphertext+tag 拼在一起
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)
}

// ParseJSONLBytes 解析每行一篇文档的 JSONL 语料
func ParseJSONLBytes(data []byte, source string) ([]Document, error) {
	var docs []Document

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry jsonlEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("skip malformed corpus line", "source", source, "line", lineNum, "error", err)
			continue
		}
		if strings.TrimSpace(entry.Content) == "" {
			continue
		}
		id := entry.ID
		if id == "" {
			id = fmt.Sprintf("%s_%05d", source, len(docs))
		}
		md := mergeMetadata(entry.Metadata, nil)
		md["source"] = source
		docs = append(docs, Document{ID: id, Content: entry.Content, Metadata: md})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	return docs, nil
}
