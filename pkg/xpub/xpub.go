package xpub

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// ExternalChain is the derivation branch for receiving addresses.
	ExternalChain uint32 = 0

	serializedKeyLen = 78
)

var (
	// ErrInvalidKeyFormat is returned for a malformed extended key: wrong
	// length, unknown version prefix or bad checksum.
	ErrInvalidKeyFormat = errors.New("invalid extended key format")
)

// ScriptType is the address encoding implied by the version prefix of an
// extended public key.
type ScriptType int

const (
	// P2PKH legacy addresses, implied by xpub/tpub keys.
	P2PKH ScriptType = iota
	// NestedP2WPKH segwit-in-script-hash addresses, implied by ypub/upub keys.
	NestedP2WPKH
	// P2WPKH native segwit addresses, implied by zpub/vpub keys.
	P2WPKH
)

func (t ScriptType) String() string {
	switch t {
	case P2PKH:
		return "p2pkh"
	case NestedP2WPKH:
		return "p2sh-p2wpkh"
	case P2WPKH:
		return "p2wpkh"
	default:
		return "unknown"
	}
}

// keyVersion maps a serialized HD version prefix to the script type and the
// chain it belongs to.
type keyVersion struct {
	scriptType ScriptType
	testnet    bool
}

var hdVersions = map[uint32]keyVersion{
	0x0488b21e: {P2PKH, false},        // xpub
	0x049d7cb2: {NestedP2WPKH, false}, // ypub
	0x04b24746: {P2WPKH, false},       // zpub
	0x043587cf: {P2PKH, true},         // tpub
	0x044a5262: {NestedP2WPKH, true},  // upub
	0x045f1cf6: {P2WPKH, true},        // vpub
}

// DerivedAddress pairs an address with the derivation index it was generated
// at. The sequence produced by a Deriver is append-only, re-deriving never
// changes the address of an already derived index.
type DerivedAddress struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
}

// Deriver performs deterministic BIP32 public derivation along the external
// chain of a single extended public key. It is a pure component, no network
// access is ever attempted.
type Deriver struct {
	key         string
	scriptType  ScriptType
	net         *chaincfg.Params
	externalKey *hdkeychain.ExtendedKey
}

// NewDeriver validates the given xpub/ypub/zpub (or testnet tpub/upub/vpub)
// and returns a Deriver bound to it. A malformed prefix or checksum yields
// ErrInvalidKeyFormat.
func NewDeriver(key string) (*Deriver, error) {
	payload := base58.Decode(key)
	if len(payload) != serializedKeyLen+4 {
		return nil, fmt.Errorf("%w: wrong key length", ErrInvalidKeyFormat)
	}

	checksum := chainhash.DoubleHashB(payload[:serializedKeyLen])[:4]
	if !equalBytes(checksum, payload[serializedKeyLen:]) {
		return nil, fmt.Errorf("%w: bad checksum", ErrInvalidKeyFormat)
	}

	version := binary.BigEndian.Uint32(payload[:4])
	kv, ok := hdVersions[version]
	if !ok {
		return nil, fmt.Errorf("%w: unknown version prefix", ErrInvalidKeyFormat)
	}

	net := &chaincfg.MainNetParams
	if kv.testnet {
		net = &chaincfg.TestNet3Params
	}

	hdKey, err := hdkeychain.NewKeyFromString(normalizeVersion(payload, net))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	if hdKey.IsPrivate() {
		return nil, fmt.Errorf("%w: private keys are not accepted", ErrInvalidKeyFormat)
	}

	externalKey, err := hdKey.Derive(ExternalChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	return &Deriver{
		key:         key,
		scriptType:  kv.scriptType,
		net:         net,
		externalKey: externalKey,
	}, nil
}

// Key returns the extended key the deriver is bound to.
func (d *Deriver) Key() string {
	return d.key
}

// ScriptType returns the address encoding implied by the key's prefix.
func (d *Deriver) ScriptType() ScriptType {
	return d.scriptType
}

// Derive returns the address at the given index of the external chain.
// Derivation is deterministic, repeated calls with the same index always
// return the same address.
func (d *Deriver) Derive(index uint32) (string, error) {
	child, err := d.externalKey.Derive(index)
	if err != nil {
		return "", fmt.Errorf("deriving child %d: %w", index, err)
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("deriving child %d: %w", index, err)
	}

	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())

	var addr btcutil.Address
	switch d.scriptType {
	case P2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(pkHash, d.net)
	case NestedP2WPKH:
		witnessScript := append([]byte{0x00, 0x14}, pkHash...)
		addr, err = btcutil.NewAddressScriptHash(witnessScript, d.net)
	default:
		addr, err = btcutil.NewAddressPubKeyHash(pkHash, d.net)
	}
	if err != nil {
		return "", fmt.Errorf("encoding address at index %d: %w", index, err)
	}

	return addr.EncodeAddress(), nil
}

// DeriveRange returns the addresses of the half-open index range [start, end),
// in derivation order. It is meant for extending an existing derivation
// without re-deriving prior indices.
func (d *Deriver) DeriveRange(start, end uint32) ([]DerivedAddress, error) {
	if end <= start {
		return nil, nil
	}

	addresses := make([]DerivedAddress, 0, end-start)
	for index := start; index < end; index++ {
		addr, err := d.Derive(index)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, DerivedAddress{Address: addr, Index: index})
	}
	return addresses, nil
}

// IsExtendedKey returns whether the given string looks like a supported
// extended public key, without validating its checksum.
func IsExtendedKey(value string) bool {
	if len(value) < 4 {
		return false
	}
	switch value[:4] {
	case "xpub", "ypub", "zpub", "tpub", "upub", "vpub":
		return true
	default:
		return false
	}
}

// normalizeVersion re-encodes the key with the plain BIP32 public version of
// its chain so that it can be parsed by hdkeychain, which does not know the
// ypub/zpub vanity prefixes.
func normalizeVersion(payload []byte, net *chaincfg.Params) string {
	normalized := make([]byte, serializedKeyLen)
	copy(normalized, payload[:serializedKeyLen])
	copy(normalized[:4], net.HDPublicKeyID[:])

	checksum := chainhash.DoubleHashB(normalized)[:4]
	return base58.Encode(append(normalized, checksum...))
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
