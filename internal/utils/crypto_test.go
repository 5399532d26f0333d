// internal/utils/crypto_test.go
package utils

import (
	"testing"
)

// TestEncryptDecryptRoundTrip 加解密往返恢复原文
func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := []string{
		"short",
		"exactly-thirty-two-bytes-key-ab!",
		"a key that is much longer than thirty-two bytes and gets truncated",
	}

	for _, key := range keys {
		ciphertext, err := Encrypt("sensitive api key", key)
		if err != nil {
			t.Fatalf("Encrypt(key=%q) 失败: %v", key, err)
		}
		if ciphertext == "sensitive api key" {
			t.Fatal("密文不应等于明文")
		}

		plaintext, err := Decrypt(ciphertext, key)
		if err != nil {
			t.Fatalf("Decrypt(key=%q) 失败: %v", key, err)
		}
		if plaintext != "sensitive api key" {
			t.Fatalf("往返结果 = %q, 期望原文", plaintext)
		}
	}
}

// TestDecryptWrongKey 错误密钥解密必须失败
func TestDecryptWrongKey(t *testing.T) {
	ciphertext, err := Encrypt("payload", "correct-key")
	if err != nil {
		t.Fatalf("Encrypt 失败: %v", err)
	}

	if _, err := Decrypt(ciphertext, "wrong-key"); err == nil {
		t.Fatal("错误密钥不应解密成功")
	}
}

// TestDecryptGarbage 非法输入返回错误而不是panic
func TestDecryptGarbage(t *testing.T) {
	if _, err := Decrypt("not base64 at all!!!", "key"); err == nil {
		t.Fatal("非base64输入应返回错误")
	}
	if _, err := Decrypt("YWJj", "key"); err == nil {
		t.Fatal("过短的密文应返回错误")
	}
}

// TestEncryptNonDeterministic 相同明文两次加密产生不同密文（随机nonce）
func TestEncryptNonDeterministic(t *testing.T) {
	first, err := Encrypt("same input", "key")
	if err != nil {
		t.Fatalf("Encrypt 失败: %v", err)
	}
	second, err := Encrypt("same input", "key")
	if err != nil {
		t.Fatalf("Encrypt 失败: %v", err)
	}
	if first == second {
		t.Fatal("随机nonce下两次加密不应产生相同密文")
	}
}

// TestGenerateSecureKey 长度校验
func TestGenerateSecureKey(t *testing.T) {
	key, err := GenerateSecureKey(32)
	if err != nil {
		t.Fatalf("GenerateSecureKey 失败: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("密钥长度 = %d, 期望 32", len(key))
	}

	if _, err := GenerateSecureKey(0); err == nil {
		t.Fatal("长度为0应返回错误")
	}
}
