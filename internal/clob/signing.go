package clob

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github.com/betbot/gofollow/internal/domain"
)

// CTF Exchange 合约地址（Polygon 主网）
const (
	exchangeAddress        = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	zeroAddress            = "0x0000000000000000000000000000000000000000"
)

// orderData EIP712 签名用的订单字段
type orderData struct {
	Salt          int64
	Maker         string
	Signer        string
	Taker         string
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          domain.Side
	SignatureType SignatureType
}

// buildOrderSignature 构建订单的 EIP712 签名
// domain name 固定为 "Polymarket CTF Exchange"，与链上合约一致
func buildOrderSignature(privateKey *ecdsa.PrivateKey, chainID Chain, verifyingContract string, od *orderData) (string, error) {
	domainSep := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           math.NewHexOrDecimal256(int64(chainID)),
		VerifyingContract: verifyingContract,
	}

	typeDefs := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Order": {
			{Name: "salt", Type: "uint256"},
			{Name: "maker", Type: "address"},
			{Name: "signer", Type: "address"},
			{Name: "taker", Type: "address"},
			{Name: "tokenId", Type: "uint256"},
			{Name: "makerAmount", Type: "uint256"},
			{Name: "takerAmount", Type: "uint256"},
			{Name: "expiration", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "feeRateBps", Type: "uint256"},
			{Name: "side", Type: "uint8"},
			{Name: "signatureType", Type: "uint8"},
		},
	}

	// BUY = 0, SELL = 1
	var sideUint8 int64 = 1
	if od.Side == domain.SideBuy {
		sideUint8 = 0
	}

	// 地址用字符串格式，uint8 字段用 big.Int，与链上验证保持一致
	message := map[string]interface{}{
		"salt":          big.NewInt(od.Salt),
		"maker":         common.HexToAddress(od.Maker).Hex(),
		"signer":        common.HexToAddress(od.Signer).Hex(),
		"taker":         common.HexToAddress(od.Taker).Hex(),
		"tokenId":       od.TokenID,
		"makerAmount":   od.MakerAmount,
		"takerAmount":   od.TakerAmount,
		"expiration":    od.Expiration,
		"nonce":         od.Nonce,
		"feeRateBps":    od.FeeRateBps,
		"side":          big.NewInt(sideUint8),
		"signatureType": big.NewInt(int64(od.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types:       typeDefs,
		PrimaryType: "Order",
		Domain:      domainSep,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", errors.Wrap(err, "计算 EIP712 哈希失败")
	}

	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", errors.Wrap(err, "签名失败")
	}

	return "0x" + common.Bytes2Hex(signature), nil
}

// buildHmacSignature 构建 L2 请求的 HMAC-SHA256 签名
// secret 是 base64url 编码，输出也转成 base64url
func buildHmacSignature(secret string, timestamp int64, method, requestPath string, body string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath + body

	sanitized := strings.ReplaceAll(secret, "-", "+")
	sanitized = strings.ReplaceAll(sanitized, "_", "/")
	keyData, err := base64.StdEncoding.DecodeString(sanitized)
	if err != nil {
		return "", errors.Wrap(err, "解码 secret 失败")
	}

	mac := hmac.New(sha256.New, keyData)
	mac.Write([]byte(message))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}

// buildClobAuthSignature 构建 L1 认证用的 ClobAuth EIP712 签名
func buildClobAuthSignature(privateKey *ecdsa.PrivateKey, chainID Chain, timestamp, nonce int64) (string, error) {
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	domainSep := apitypes.TypedDataDomain{
		Name:    "ClobAuthDomain",
		Version: "1",
		ChainId: math.NewHexOrDecimal256(int64(chainID)),
	}

	typeDefs := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"ClobAuth": {
			{Name: "address", Type: "address"},
			{Name: "timestamp", Type: "string"},
			{Name: "nonce", Type: "uint256"},
			{Name: "message", Type: "string"},
		},
	}

	message := map[string]interface{}{
		"address":   address.Hex(),
		"timestamp": strconv.FormatInt(timestamp, 10),
		"nonce":     big.NewInt(nonce),
		"message":   "This message attests that I control the given wallet",
	}

	typedData := apitypes.TypedData{
		Types:       typeDefs,
		PrimaryType: "ClobAuth",
		Domain:      domainSep,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", errors.Wrap(err, "计算 ClobAuth 哈希失败")
	}

	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", errors.Wrap(err, "签名失败")
	}
	return "0x" + common.Bytes2Hex(signature), nil
}

// l1Headers 构建 L1 认证头（私钥签名验证，用于创建/派生 API 密钥）
func l1Headers(privateKey *ecdsa.PrivateKey, chainID Chain, timestamp int64) (map[string]string, error) {
	sig, err := buildClobAuthSignature(privateKey, chainID, timestamp, 0)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	return map[string]string{
		"POLY_ADDRESS":   address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(timestamp, 10),
		"POLY_NONCE":     "0",
	}, nil
}

// l2Headers 构建 L2 认证头（API 密钥 + HMAC）
func l2Headers(privateKey *ecdsa.PrivateKey, creds *ApiKeyCreds, timestamp int64, method, requestPath, body string) (map[string]string, error) {
	sig, err := buildHmacSignature(creds.Secret, timestamp, method, requestPath, body)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	return map[string]string{
		"POLY_ADDRESS":    address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  strconv.FormatInt(timestamp, 10),
		"POLY_API_KEY":    creds.Key,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}
