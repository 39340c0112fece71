package chunkuploader

import "fmt"

// Plan lists the transfers that cover [0, total) in order. A zero total
// yields no transfers.
func Plan(total, chunkSize int64) ([]Transfer, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if total < 0 {
		return nil, fmt.Errorf("total size must not be negative, got %d", total)
	}

	transfers := make([]Transfer, 0, (total+chunkSize-1)/chunkSize)
	for offset := int64(0); offset < total; {
		t := nextTransfer(len(transfers), offset, total, chunkSize)
		transfers = append(transfers, t)
		offset = t.End
	}
	return transfers, nil
}

func nextTransfer(index int, offset, total, chunkSize int64) Transfer {
	end := offset + chunkSize
	if end > total {
		end = total
	}
	return Transfer{Index: index, Start: offset, End: end, Total: total}
}
