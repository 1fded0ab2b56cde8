package pipeline

import "context"

// Identity returns a transform that passes every item through unchanged.
func Identity() Transform {
	return each(func(it Item) (Item, bool, error) {
		return it, true, nil
	})
}

// HeadFunc returns a transform that replaces each head with the result of fn.
// Data items pass through unchanged.
func HeadFunc(fn func(head interface{}) (interface{}, error)) Transform {
	return each(func(it Item) (Item, bool, error) {
		if it.Head == nil {
			return it, true, nil
		}

		h, err := fn(it.Head)
		if err != nil {
			return it, false, err
		}

		it.Head = h
		return it, true, nil
	})
}

// DataFunc returns a transform that replaces each chunk of body data with the
// result of fn. Chunks for which fn returns no data are dropped. Heads pass
// through unchanged.
func DataFunc(fn func(data []byte) ([]byte, error)) Transform {
	return each(func(it Item) (Item, bool, error) {
		if it.Head != nil {
			return it, true, nil
		}

		d, err := fn(it.Data)
		if err != nil {
			return it, false, err
		}

		it.Data = d
		return it, len(d) > 0, nil
	})
}

func each(fn func(Item) (Item, bool, error)) Transform {
	return TransformFunc(func(ctx context.Context, in <-chan Item, out chan<- Item) error {
		for it := range in {
			it, keep, err := fn(it)
			if err != nil {
				return err
			} else if !keep {
				continue
			}

			if err := Send(ctx, out, it); err != nil {
				return err
			}
		}

		return nil
	})
}
