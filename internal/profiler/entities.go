package profiler

import "strings"

// EntityRegistry classifies known custodial and bridge addresses on
// Polygon. A funding trace terminates when it reaches one of these:
// beyond an exchange hot wallet the provenance belongs to the exchange,
// not the trader.
//
// Address labels sourced from Etherscan labels and public disclosures.
type EntityRegistry struct {
	labels map[string]string
}

// NewEntityRegistry returns a registry seeded with well-known CEX hot
// wallets and the Polygon PoS bridge.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{labels: map[string]string{
		// Binance
		"0x28c6c06298d514db089934071355e5743bf21d60": "binance",
		"0x21a31ee1afc51d94c2efccaa2092ad1028285549": "binance",
		"0xf89d7b9c864f589bbf53a82105107622b35eaa40": "binance",
		"0xdfd5293d8e347dfe59e90efd55b2956a1343963d": "binance",
		// Coinbase
		"0x503828976d22510aad0339f595f37cc4e4645c80": "coinbase",
		"0x71660c4005ba85c37ccec55d0c4493e66fe775d3": "coinbase",
		"0xa9d1e08c7793af67e9d92fe308d5697fb81d3e43": "coinbase",
		// Kraken
		"0x2910543af39aba0cd09dbb2d50200b3e800a63d2": "kraken",
		"0x0a869d79a7052c7f1b55a8ebabbea3420f0d1e13": "kraken",
		// OKX
		"0x5041ed759dd4afc3a72b8192c143f72f4724081a": "okx",
		"0x6cc5f688a315f3dc28a7781717a9a798a59fda7b": "okx",
		// KuCoin
		"0xf16e9b0d03470827a95cdfd0cb8a8a3b46969b91": "kucoin",
		"0xd6216fc19db775df9774a6e33526131da7d19a2c": "kucoin",
		// Polygon PoS bridge
		"0x40ec5b33f54e0e8a33a975908c5ba1c14e5bbbdf": "polygon_bridge",
	}}
}

// Add registers an additional terminal address.
func (r *EntityRegistry) Add(address, label string) {
	r.labels[strings.ToLower(address)] = label
}

// Lookup returns the label for address and whether it is a known entity.
func (r *EntityRegistry) Lookup(address string) (string, bool) {
	label, ok := r.labels[strings.ToLower(address)]
	return label, ok
}
