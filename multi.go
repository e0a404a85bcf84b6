package pod

import (
	"context"
)

// FetchMulti gets multiple blobs with concurrent individual FetchBlob calls.
// The return value is a mapping of input addresses to the blobs that were found in g.
// The returned error may be a MultiErr,
// mapping input addresses to errors encountered retrieving those specific blobs.
// This function may return a successful partial result even in case of error.
// In particular, when the error return is a MultiErr,
// every input address appears in either the result map or the MultiErr map.
func FetchMulti(ctx context.Context, g Getter, addrs []Address) (map[Address][]byte, error) {
	type triple struct {
		addr Address
		blob []byte
		err  error
	}

	var (
		res = make(map[Address][]byte)
		ch  = make(chan triple)
	)

	for _, addr := range addrs {
		addr := addr
		go func() {
			blob, err := g.FetchBlob(ctx, addr)
			ch <- triple{addr: addr, blob: blob, err: err}
		}()
	}

	var errmap MultiErr

	for i := 0; i < len(addrs); i++ {
		trip := <-ch
		if trip.err != nil {
			if errmap == nil {
				errmap = make(MultiErr)
			}
			errmap[trip.addr] = trip.err
			continue
		}
		res[trip.addr] = trip.blob
	}

	if errmap != nil {
		return res, errmap
	}
	return res, nil
}

// PutMulti stores multiple blobs with concurrent individual PutBlob calls.
// The return value lists the address of each input blob, in input order.
// The returned error may be a MultiErr,
// mapping the addresses of blobs that could not be stored to the errors encountered.
func PutMulti(ctx context.Context, n Network, blobs [][]byte) ([]Address, error) {
	type triple struct {
		idx  int
		addr Address
		err  error
	}

	var (
		res = make([]Address, len(blobs))
		ch  = make(chan triple)
	)

	for i, blob := range blobs {
		i, blob := i, blob
		go func() {
			addr, err := n.PutBlob(ctx, blob)
			if err != nil {
				addr = BlobAddress(blob)
			}
			ch <- triple{idx: i, addr: addr, err: err}
		}()
	}

	var errmap MultiErr

	for i := 0; i < len(blobs); i++ {
		trip := <-ch
		res[trip.idx] = trip.addr
		if trip.err != nil {
			if errmap == nil {
				errmap = make(MultiErr)
			}
			errmap[trip.addr] = trip.err
		}
	}

	if errmap != nil {
		return res, errmap
	}
	return res, nil
}
