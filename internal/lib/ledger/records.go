package ledger

import (
	"fmt"
	"slices"
)

// ClaimedRecord answers whether an era's rewards were already claimed.  One
// implementation exists per record encoding; the resolver only ever sees
// this interface.
type ClaimedRecord interface {
	// Claimed reports whether the era is fully claimed (all pages, for paged
	// records).
	Claimed(era EraID) bool
}

// RecordCodec decodes a raw RewardRecord into a ClaimedRecord.  A codec is
// selected once per chain family at configuration time.
type RecordCodec interface {
	Decode(rec *RewardRecord) (ClaimedRecord, error)
}

// CodecForFamily returns the claimed-record codec for a chain family name as
// carried in the network config.
func CodecForFamily(family string) (RecordCodec, error) {
	switch family {
	case "relay-legacy":
		return listCodec{}, nil
	case "standalone":
		return bitmaskCodec{}, nil
	case "relay-paged":
		return pagedCodec{}, nil
	}
	return nil, fmt.Errorf("chain family %q: %w", family, ErrQueryUnsupported)
}

type listCodec struct{}

func (listCodec) Decode(rec *RewardRecord) (ClaimedRecord, error) {
	if rec.Encoding != EncodingList {
		return nil, fmt.Errorf("expected list record, got encoding %d: %w", rec.Encoding, ErrQueryUnsupported)
	}
	return claimedList(rec.ClaimedEras), nil
}

type claimedList []EraID

func (c claimedList) Claimed(era EraID) bool {
	return slices.Contains(c, era)
}

type bitmaskCodec struct{}

func (bitmaskCodec) Decode(rec *RewardRecord) (ClaimedRecord, error) {
	if rec.Encoding != EncodingBitmask {
		return nil, fmt.Errorf("expected bitmask record, got encoding %d: %w", rec.Encoding, ErrQueryUnsupported)
	}
	return &claimedBitmask{start: rec.BitmaskStart, bits: rec.Bitmask}, nil
}

// claimedBitmask holds one bit per era, LSB-first, bit 0 == start era.
type claimedBitmask struct {
	start EraID
	bits  []byte
}

func (c *claimedBitmask) Claimed(era EraID) bool {
	if era < c.start {
		return false
	}
	idx := uint32(era - c.start)
	byteIdx := int(idx / 8)
	if byteIdx >= len(c.bits) {
		return false
	}
	return c.bits[byteIdx]&(1<<(idx%8)) != 0
}

type pagedCodec struct{}

func (pagedCodec) Decode(rec *RewardRecord) (ClaimedRecord, error) {
	if rec.Encoding != EncodingPaged {
		return nil, fmt.Errorf("expected paged record, got encoding %d: %w", rec.Encoding, ErrQueryUnsupported)
	}
	return claimedPages(rec.Pages), nil
}

type claimedPages map[EraID]PagedEra

// Claimed is true only when every exposure page of the era was claimed.  An
// era absent from the record has no exposure pages at all and counts as
// claimed - there is nothing left to pay out.
func (c claimedPages) Claimed(era EraID) bool {
	pe, ok := c[era]
	if !ok {
		return true
	}
	for p := PageIndex(0); p < pe.PageCount; p++ {
		if !slices.Contains(pe.ClaimedPages, p) {
			return false
		}
	}
	return true
}
