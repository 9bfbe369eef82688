package badger

import (
	"encoding/binary"
	"math"
)

// Key prefixes. IDs are big-endian so prefix scans return them in ascending order.
const (
	idSeq           = "seq:id"
	sitePrefix      = "site:"
	pagePrefix      = "page:"
	pagePathPrefix  = "pagepath:"
	lemmaPrefix     = "lemma:"
	lemmaSitePrefix = "lemmasite:"
	lemmaTextPrefix = "lemmatext:"
	pageIndexPrefix = "ipage:"
	lemmaIndexPref  = "ilemma:"
)

func appendID(buf []byte, id int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func siteKey(id int64) []byte {
	return appendID([]byte(sitePrefix), id)
}

func pageKey(id int64) []byte {
	return appendID([]byte(pagePrefix), id)
}

// pagePathKey format: prefix:siteID:path -> pageID
func pagePathKey(siteID int64, path string) []byte {
	return append(pagesOfSite(siteID), path...)
}

func pagesOfSite(siteID int64) []byte {
	return appendID([]byte(pagePathPrefix), siteID)
}

func lemmaKey(id int64) []byte {
	return appendID([]byte(lemmaPrefix), id)
}

// lemmaSiteKey format: prefix:siteID:text -> lemmaID
func lemmaSiteKey(siteID int64, text string) []byte {
	return append(lemmasOfSite(siteID), text...)
}

func lemmasOfSite(siteID int64) []byte {
	return appendID([]byte(lemmaSitePrefix), siteID)
}

// lemmaTextKey format: prefix:text\x00lemmaID
func lemmaTextKey(text string, id int64) []byte {
	return appendID(lemmasWithText(text), id)
}

func lemmasWithText(text string) []byte {
	buf := append([]byte(lemmaTextPrefix), text...)
	return append(buf, 0)
}

// pageIndexKey format: prefix:pageID:lemmaID -> rank
func pageIndexKey(pageID, lemmaID int64) []byte {
	return appendID(indicesOfPage(pageID), lemmaID)
}

func indicesOfPage(pageID int64) []byte {
	return appendID([]byte(pageIndexPrefix), pageID)
}

// lemmaIndexKey format: prefix:lemmaID:pageID -> rank
func lemmaIndexKey(lemmaID, pageID int64) []byte {
	return appendID(indicesOfLemma(lemmaID), pageID)
}

func indicesOfLemma(lemmaID int64) []byte {
	return appendID([]byte(lemmaIndexPref), lemmaID)
}

func encodeRank(rank float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(rank))
}

func decodeRank(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}
