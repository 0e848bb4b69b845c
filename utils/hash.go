package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 上传内容的 MD5，用作缓存键
func BytesMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
